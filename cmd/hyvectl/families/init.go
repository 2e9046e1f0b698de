package families

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/p2p-industries/hyveos-sub001/internal/config"
)

// NewInitCommand writes a config.toml populated with config.Default() to the
// first of internal/config's search paths, or to --out. Unlike every other
// hyvectl command this does not dial the bridge: there is nothing listening
// yet on a node that hasn't been configured.
func NewInitCommand(opts *GlobalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := out
			if path == "" {
				if len(config.SearchPaths) == 0 {
					return fmt.Errorf("hyvectl: no config search paths configured")
				}
				path = config.SearchPaths[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("hyvectl: %s already exists, pass --out to write elsewhere", path)
			}

			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
			if err != nil {
				return fmt.Errorf("hyvectl: create %s: %w", path, err)
			}
			defer f.Close()

			if err := toml.NewEncoder(f).Encode(config.Default()); err != nil {
				return fmt.Errorf("hyvectl: write %s: %w", path, err)
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "path to write instead of the first config search path")
	return cmd
}
