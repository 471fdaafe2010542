package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindHub    = "hub"
	KindClient = "client"
)

// Kinds lists every template kind in a stable order.
func Kinds() []string {
	return []string{KindHub, KindClient}
}

func Template(kind string) (string, error) {
	switch normalizeKind(kind) {
	case KindHub:
		return hubTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// DefaultPath is where each binary expects its config inside the repo.
func DefaultPath(kind string) (string, error) {
	switch normalizeKind(kind) {
	case KindHub:
		return "cmd/collabhub/config.toml", nil
	case KindClient:
		return "cmd/collabctl/config.toml", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

const hubTemplate = `id = "hub.local"
http_addr = ":9000"
stream_addr = ":9001"
cors_origins = ["http://localhost:3000"]
token = "temp-collab-token"

# memory | postgres
log_backend = "memory"
postgres_dsn = ""

# set redis_addr to relay updates between hubs; requires log_backend = "postgres"
redis_addr = ""
redis_channel = "collab:updates"

write_timeout = "10s"
send_queue = 256
op_timeout = "5s"
max_frame_bytes = 8388608

security_mode = "development"
tls_enabled = false
tls_mutual = false
tls_cert_file = ""
tls_key_file = ""
tls_ca_file = ""
`

const clientTemplate = `document_id = "notes"

# websocket | tcp
transport = "websocket"
url = "ws://127.0.0.1:9000/ws/"
addr = "127.0.0.1:9001"
token = "temp-collab-token"
journal_path = "collabctl.db"

connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "5s"
max_frame_bytes = 8388608

# immediate | batched
commit_policy = "immediate"
batch_interval = "250ms"
send_timeout = "5s"

backoff_initial_delay = "250ms"
backoff_multiplier = 2.0
backoff_max_delay = "5s"
backoff_jitter = true
max_reconnect_attempts = 0

security_mode = "development"
tls_enabled = false
tls_mutual = false
tls_server_name = ""
tls_cert_file = ""
tls_key_file = ""
tls_ca_file = ""
`
