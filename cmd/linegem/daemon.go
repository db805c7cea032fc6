package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.linegem.serve"
	systemdUnit  = "linegem.service"
)

type unitParams struct {
	Label   string
	Exec    string
	Config  string
	LogPath string
	ErrPath string
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a user service that runs 'linegem serve' at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			return installDaemon(runtime.GOOS, home, execPath, resolveConfigPath())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, err := unitPath(runtime.GOOS, home)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

func unitPath(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func renderUnit(goos string, p unitParams) ([]byte, error) {
	tmpl := systemdTemplate
	if goos == "darwin" {
		tmpl = launchdTemplate
	}
	t, err := template.New(goos).Parse(tmpl)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func installDaemon(goos, home, execPath, cfgPath string) error {
	path, err := unitPath(goos, home)
	if err != nil {
		return err
	}
	logDir := filepath.Join(home, ".linegem", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	unit, err := renderUnit(goos, unitParams{
		Label:   launchdLabel,
		Exec:    execPath,
		Config:  cfgPath,
		LogPath: filepath.Join(logDir, "linegem.log"),
		ErrPath: filepath.Join(logDir, "linegem-error.log"),
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, unit, 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", path)
	if goos == "darwin" {
		fmt.Printf("To start: launchctl load %s\n", path)
	} else {
		fmt.Printf("To start:  systemctl --user daemon-reload && systemctl --user enable --now linegem\n")
	}
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrPath}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=linegem LINE webhook bot
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
