package install

import (
	"fmt"
	"os"
	"path/filepath"

	"gitdeploy/internal/security"
	"gitdeploy/pkg/templates"
)

// DefaultUnitPath is where the trigger server unit is installed.
const DefaultUnitPath = "/etc/systemd/system/gitdeploy.service"

const systemdUnit = `[Unit]
Description=gitdeploy trigger server
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{USER}}
Group={{GROUP}}
WorkingDirectory={{HOME}}
Environment=GITDEPLOY_CONFIG_FILE={{CONFIG}}
EnvironmentFile=-/etc/default/gitdeploy
ExecStart={{BINARY}} serve --host {{HOST}} --port {{PORT}} --db {{DB}} --log {{LOG}}
Restart=on-failure
RestartSec=5
TimeoutStopSec=660
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=full

[Install]
WantedBy=multi-user.target
`

// UnitOptions describes the service to render.
type UnitOptions struct {
	User   string
	Group  string
	Home   string
	Binary string
	Config string
	Host   string
	Port   int
}

// SystemdUnit renders a unit file running "gitdeploy serve". The history
// database and log live in Home.
func SystemdUnit(opts UnitOptions) (string, error) {
	if opts.User == "" || opts.Home == "" || opts.Binary == "" || opts.Config == "" {
		return "", fmt.Errorf("systemd unit needs user, home, binary and config")
	}
	if !filepath.IsAbs(opts.Binary) || !filepath.IsAbs(opts.Home) || !filepath.IsAbs(opts.Config) {
		return "", fmt.Errorf("systemd unit paths must be absolute")
	}
	group := opts.Group
	if group == "" {
		group = opts.User
	}
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port == 0 {
		port = 5000
	}

	return templates.Render(systemdUnit, templates.TemplateData{
		"USER":   opts.User,
		"GROUP":  group,
		"HOME":   opts.Home,
		"BINARY": opts.Binary,
		"CONFIG": opts.Config,
		"HOST":   host,
		"PORT":   fmt.Sprint(port),
		"DB":     filepath.Join(opts.Home, "deployments.db"),
		"LOG":    filepath.Join(opts.Home, "deployments.log"),
	}), nil
}

// WriteUnit writes unit to path, replacing any existing file.
func WriteUnit(path, unit string) error {
	if err := os.MkdirAll(filepath.Dir(path), security.PermDirectory); err != nil {
		return fmt.Errorf("creating unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(unit), 0644); err != nil {
		return fmt.Errorf("writing service file: %w", err)
	}
	return nil
}
