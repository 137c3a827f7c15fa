package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"zapbot/internal/config"

	"github.com/spf13/cobra"
)

// Archive entry names. The credential database and its sqlite side files
// keep their suffixes so restore can put them next to the configured path.
const (
	archiveConfig = "config"
	archiveStore  = "auth.db"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the linked-device credentials and config",
		Long: `Creates a .tar.gz archive holding the credential store and the config
file. Restoring it on another host moves the WhatsApp link without pairing
again. Stop zapbot first so the database is consistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o700); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir, fmt.Sprintf("zapbot-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			entries := backupEntries(cfg.WhatsApp.StorePath, cfgPath)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (store: %s, config: %s)", cfg.WhatsApp.StorePath, cfgPath)
			}
			if err := writeArchive(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for name, src := range entries {
				fmt.Printf("  - %s <- %s\n", name, src)
			}
			fmt.Println("The archive contains account credentials; keep it private.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.zapbot/backups/zapbot-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore credentials and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			storePath := cfg.WhatsApp.StorePath

			if !force {
				for _, p := range []string{storePath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists; restore aborted (use --force to overwrite)", p)
					}
				}
			}

			targets := map[string]string{
				archiveConfig + filepath.Ext(cfgPath): cfgPath,
				archiveStore:                          storePath,
				archiveStore + "-wal":                 storePath + "-wal",
				archiveStore + "-shm":                 storePath + "-shm",
			}
			restored, err := extractArchive(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restored from %s:\n", args[0])
			for _, p := range restored {
				fmt.Printf("  - %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// backupEntries maps archive names to the existing files they come from.
func backupEntries(storePath, cfgPath string) map[string]string {
	candidates := map[string]string{
		archiveStore:                          storePath,
		archiveStore + "-wal":                 storePath + "-wal",
		archiveStore + "-shm":                 storePath + "-shm",
		archiveConfig + filepath.Ext(cfgPath): cfgPath,
	}
	entries := make(map[string]string)
	for name, src := range candidates {
		if _, err := os.Stat(src); err == nil {
			entries[name] = src
		}
	}
	return entries
}

func writeArchive(outputPath string, entries map[string]string) error {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	return archiveTo(out, entries)
}

// archiveTo writes entries to out as tar.gz and closes out. A failed close
// is reported since the archive may be incomplete on disk.
func archiveTo(out io.WriteCloser, entries map[string]string) (err error) {
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, src := range entries {
		if err := addFile(tw, name, src); err != nil {
			return fmt.Errorf("add %s: %w", src, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractArchive writes the archive entries named in targets to their
// target paths. Unknown entries are skipped.
func extractArchive(archivePath string, targets map[string]string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, err
		}

		target, ok := targets[hdr.Name]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return restored, err
		}
		if err := writeFile(target, tr); err != nil {
			return restored, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
