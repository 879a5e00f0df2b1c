package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TheSeeker/Sone-sub000/internal/app"
	"github.com/TheSeeker/Sone-sub000/internal/config"
	"github.com/TheSeeker/Sone-sub000/internal/encryption"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Run", "CreatePost").
func newApp(ctx context.Context, operation string) (*app.App, string, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, "", fmt.Errorf("initializing app: %w", err)
	}

	return a, paths.ConfigPath, nil
}

// withLocalSone runs fn against the local identity selected by --sone and
// marks the operation failed when fn returns an error.
func withLocalSone(cmd *cobra.Command, operation string, fn func(a *app.App, soneID string) error) error {
	a, _, err := newApp(cmd.Context(), operation)
	if err != nil {
		return err
	}
	defer a.Close()

	flag, _ := cmd.Flags().GetString("sone")
	soneID, err := a.ResolveLocal(flag)
	if err == nil {
		err = fn(a, soneID)
	}
	if err != nil {
		a.Fail()
	}
	return err
}

// newIdentityID returns a random id with the length of an identity id.
func newIdentityID() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:43]
}

var rootCmd = &cobra.Command{
	Use:   "sone",
	Short: "Decentralized social identity sync",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		cfg.LogDir = paths.LogDir
		cfg.Database.DataDir = paths.DataDir

		name, _ := cmd.Flags().GetString("name")
		if name != "" {
			id := newIdentityID()
			cfg.Identities = append(cfg.Identities, config.IdentityConfig{
				ID:             id,
				Name:           name,
				RequestAddress: "USK@" + id + "/Sone/",
				InsertAddress:  "USK@" + id + "-insert/Sone/",
				Local:          true,
			})
		}

		if encrypt, _ := cmd.Flags().GetBool("encrypt"); encrypt {
			keyPath := paths.AgeIdentity
			recipient, err := encryption.GenerateIdentity(keyPath)
			if err != nil {
				return fmt.Errorf("failed to generate age identity: %w", err)
			}
			cfg.Encryption = config.EncryptionConfig{Type: "age", IdentityPath: keyPath}
			fmt.Printf("Age recipient: %s\n", recipient)
		}

		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		for _, identity := range cfg.Identities {
			fmt.Printf("Local identity: %s (%s)\n", identity.Name, identity.ID)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Log Level:  %s\n", cfg.LogLevel)
		fmt.Printf("Substrate:  %s\n", cfg.Substrate.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Debounce:   %s\n", cfg.Publish.DebounceInterval.Duration)
		fmt.Println("\nIdentities:")
		for _, identity := range cfg.Identities {
			kind := "remote"
			if identity.Local {
				kind = "local"
			}
			fmt.Printf("  %-6s  %s  %s\n", kind, identity.ID, identity.Name)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish local identities and follow remote ones until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, configPath, err := newApp(ctx, "Run")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Run(ctx, configPath); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show known identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.Store()
		for _, id := range st.SoneIDs() {
			s, ok := st.Sone(id)
			if !ok {
				continue
			}
			kind := "remote"
			if s.Local {
				kind = "local"
				if st.IsLocked(id) {
					kind = "locked"
				}
			}
			fmt.Printf("%-6s  %s  %-12s  edition=%d  posts=%d  replies=%d\n",
				kind, s.ID, s.Name, s.LatestEdition, len(s.Posts), len(s.Replies))
		}
		return nil
	},
}

// post command
var postCmd = &cobra.Command{
	Use:   "post TEXT",
	Short: "Create a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "CreatePost", func(a *app.App, soneID string) error {
			to, _ := cmd.Flags().GetString("to")
			p, err := a.CreatePost(soneID, to, args[0])
			if err != nil {
				return fmt.Errorf("creating post: %w", err)
			}
			fmt.Printf("Created post %s\n", p.ID)
			return nil
		})
	},
}

// reply command
var replyCmd = &cobra.Command{
	Use:   "reply POST_ID TEXT",
	Short: "Reply to a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "CreateReply", func(a *app.App, soneID string) error {
			r, err := a.CreateReply(soneID, args[0], args[1])
			if err != nil {
				return fmt.Errorf("creating reply: %w", err)
			}
			fmt.Printf("Created reply %s\n", r.ID)
			return nil
		})
	},
}

// like command
var likeCmd = &cobra.Command{
	Use:   "like POST_ID",
	Short: "Like a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "LikePost", func(a *app.App, soneID string) error {
			return a.LikePost(soneID, args[0])
		})
	},
}

// unlike command
var unlikeCmd = &cobra.Command{
	Use:   "unlike POST_ID",
	Short: "Remove a like from a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "UnlikePost", func(a *app.App, soneID string) error {
			a.UnlikePost(soneID, args[0])
			return nil
		})
	},
}

// profile command
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update the profile of a local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "UpdateProfile", func(a *app.App, soneID string) error {
			return a.UpdateProfile(soneID, func(p *sone.Profile) error {
				return applyProfileFlags(cmd, p)
			})
		})
	},
}

func applyProfileFlags(cmd *cobra.Command, p *sone.Profile) error {
	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"first-name":  &p.FirstName,
		"middle-name": &p.MiddleName,
		"last-name":   &p.LastName,
		"avatar":      &p.AvatarID,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	for name, dst := range map[string]*int{
		"birth-day":   &p.BirthDay,
		"birth-month": &p.BirthMonth,
		"birth-year":  &p.BirthYear,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	fields, _ := flags.GetStringArray("field")
	for _, kv := range fields {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid field %q, want NAME=VALUE", kv)
		}
		f, exists := p.FieldByName(name)
		if !exists {
			var err error
			if f, err = p.AddField(name); err != nil {
				return err
			}
		}
		if err := p.SetFieldValue(f.ID, value); err != nil {
			return err
		}
	}

	removed, _ := flags.GetStringArray("remove-field")
	for _, name := range removed {
		if f, ok := p.FieldByName(name); ok {
			p.RemoveField(f.ID)
		}
	}
	return nil
}

// lock command
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Stop publishing a local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "Lock", func(a *app.App, soneID string) error {
			a.SetLocked(soneID, true)
			return nil
		})
	},
}

// unlock command
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Resume publishing a local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "Unlock", func(a *app.App, soneID string) error {
			a.SetLocked(soneID, false)
			return nil
		})
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the document of a local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "Export", func(a *app.App, soneID string) error {
			data, err := a.Export(soneID)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		})
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Copy the state database to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp(cmd.Context(), "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			a.Fail()
			return fmt.Errorf("backing up database: %w", err)
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

// forget command
var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete the stored state of a local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalSone(cmd, "Forget", func(a *app.App, soneID string) error {
			return a.Forget(cmd.Context(), soneID)
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("name", "", "Create a local identity with this name")
	configInitCmd.Flags().Bool("encrypt", false, "Generate an age identity and seal published documents")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)

	// commands acting as a local identity
	for _, cmd := range []*cobra.Command{postCmd, replyCmd, likeCmd, unlikeCmd, profileCmd, lockCmd, unlockCmd, exportCmd, forgetCmd} {
		cmd.Flags().String("sone", "", "Local identity to act as (id or name)")
		rootCmd.AddCommand(cmd)
	}
	postCmd.Flags().String("to", "", "Recipient identity id")

	profileCmd.Flags().String("first-name", "", "First name")
	profileCmd.Flags().String("middle-name", "", "Middle name")
	profileCmd.Flags().String("last-name", "", "Last name")
	profileCmd.Flags().String("avatar", "", "Image id of the avatar")
	profileCmd.Flags().Int("birth-day", 0, "Day of birth")
	profileCmd.Flags().Int("birth-month", 0, "Month of birth")
	profileCmd.Flags().Int("birth-year", 0, "Year of birth")
	profileCmd.Flags().StringArray("field", nil, "Set a custom field (NAME=VALUE, repeatable)")
	profileCmd.Flags().StringArray("remove-field", nil, "Remove a custom field (repeatable)")
}
