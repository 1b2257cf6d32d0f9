// Package edit opens the build profile in the system editor.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"basenode/pkg/config"
)

// EditConfig opens the profile in $EDITOR. A missing file is first seeded
// with the compiled-in defaults.
func EditConfig(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new profile at %s...\n", path)
		def := config.Default()
		data, err := def.Marshal()
		if err != nil {
			return fmt.Errorf("rendering default profile: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("writing default profile: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		for _, e := range []string{"vi", "nano", "vim"} {
			if _, err := exec.LookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found ($EDITOR not set, and vi/nano/vim not in PATH)")
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}

	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Profile does not load: %v\n", err)
	}
	return nil
}
