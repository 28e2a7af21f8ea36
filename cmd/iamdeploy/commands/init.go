package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/stores"
)

const settingsTemplate = `# iamdeploy settings

root_address: "%s"

channel:
  # exec, ssh or dry-run. For local testing use type exec with
  # remote_path iamdeploy-agent, the simulated agent.
  type: dry-run
  remote_path: /tmp/iamdeploy-agent.py
  startup_timeout: 30s
  call_timeout: 2m
  ssh:
    host: ""
    user: oracle
    auth_method: key
    private_key_path: %s
    strict_host_key_checking: true
    interpreter: /u01/oracle/common/bin/wlst.sh

store:
  path: %s

policy:
  enabled: true
  mode: enforcing
  paths: []
  watch: false

deploy:
  parallelism: 4
  continue_on_error: false

logging:
  level: info
  format: console
  output: stderr

server:
  listen_address: ":8080"
`

const exampleDefinitions = `definitions:
  - id: portal-domain
    category: oauth-identity-domain
    name: PortalDomain
    labels:
      env: dev
    properties:
      identityDomain: PortalDomain
      description: Customer portal

  - id: portal-client
    category: oauth-client
    name: PortalClient
    labels:
      env: dev
    depends_on: [portal-domain]
    properties:
      clientName: PortalClient
      identityDomain: PortalDomain
      redirectURI: https://portal.example.com/callback
      scopes: PortalDomain.Default
`

func newInitCommand() *cobra.Command {
	var (
		dir    string
		sshKey bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an iamdeploy workspace",
		Long: `Initialize a workspace with a settings file, example definitions and the
dispatch history database. --ssh-key also generates an ed25519 key pair for
the ssh channel.`,
		Example: `  # Initialize the current directory
  iamdeploy init

  # Initialize ./iam with an SSH key
  iamdeploy init --dir ./iam --ssh-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			log.Info().
				Str("dir", dir).
				Bool("ssh_key", sshKey).
				Msg("Initializing workspace")

			dir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			dataDir := filepath.Join(dir, ".iamdeploy")
			defsDir := filepath.Join(dir, "definitions")
			for _, d := range []string{dataDir, defsDir} {
				if err := os.MkdirAll(d, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", d, err)
				}
			}

			dbPath := filepath.Join(dataDir, "history.db")
			store, err := stores.Open(ctx, dbPath)
			if err != nil {
				return fmt.Errorf("failed to initialize history: %w", err)
			}
			version, err := store.SchemaVersion(ctx)
			_ = store.Close()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized history database: %s (schema v%d)\n", dbPath, version)

			keyPath := filepath.Join(dataDir, "id_ed25519")
			settingsPath := configPath
			if settingsPath == "" {
				settingsPath = filepath.Join(dir, defaultSettingsFile)
			}
			written, err := writeIfAbsent(settingsPath, fmt.Sprintf(settingsTemplate, engine.DefaultRootAddress, keyPath, dbPath), force)
			if err != nil {
				return err
			}
			report(cmd, written, "settings", settingsPath)

			examplePath := filepath.Join(defsDir, "example.yaml")
			if written, err = writeIfAbsent(examplePath, exampleDefinitions, force); err != nil {
				return err
			}
			report(cmd, written, "example definitions", examplePath)

			if sshKey {
				created, err := generateKeyPair(keyPath)
				if err != nil {
					return err
				}
				report(cmd, created, "SSH key pair", keyPath)
			}

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  iamdeploy plan %s\n", defsDir)
			fmt.Fprintf(out, "  iamdeploy apply %s --dry-run\n", defsDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "workspace directory")
	cmd.Flags().BoolVar(&sshKey, "ssh-key", false, "generate an ed25519 key pair for the ssh channel")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing settings and examples")

	return cmd
}

func report(cmd *cobra.Command, created bool, what, path string) {
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s: %s\n", what, path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Kept existing %s: %s\n", what, path)
	}
}

func writeIfAbsent(path, content string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// generateKeyPair writes an OpenSSH ed25519 private key and its .pub file
// unless the private key already exists.
func generateKeyPair(keyPath string) (bool, error) {
	if _, err := os.Stat(keyPath); err == nil {
		return false, nil
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privKeyBlock, err := sshpkg.MarshalPrivateKey(privKey, "iamdeploy")
	if err != nil {
		return false, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privKeyBlock), 0o600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0o644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}
