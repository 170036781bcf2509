package main

import (
	"s3ftp/internal/commands/serve"
	"s3ftp/internal/commands/user"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "s3ftp",
	Short: "s3ftp is an FTP server backed by S3 buckets.",
	Long:  `s3ftp is an FTP server backed by S3 buckets. Every user is rooted at a store, bucket and path, and sees that prefix as a filesystem.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FTP server.",
	Long:  `Start the FTP server. The server runs until it receives SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		serve.Run(serve.Flags{Config: configPath})
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage FTP users.",
}

var userAddFlags user.Flags
var userAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Create a user.",
	Long:  `Create a user. The password is read from the terminal.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userAddFlags.Config = configPath
		user.Add(userAddFlags, args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users.",
	Run: func(cmd *cobra.Command, args []string) {
		user.List(user.Flags{Config: configPath})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove [username]",
	Short: "Remove a user.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		user.Remove(user.Flags{Config: configPath}, args[0])
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd [username]",
	Short: "Change a user's password.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		user.Passwd(user.Flags{Config: configPath}, args[0])
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, userCmd)
	userCmd.AddCommand(userAddCmd, userListCmd, userRemoveCmd, userPasswdCmd)

	rootCmd.PersistentFlags().StringVarP(
		&configPath, "config", "c", "s3ftp.yaml", "Path to the configuration file",
	)

	// ===============
	// userAddCmd flags
	// ===============
	userAddCmd.Flags().StringVar(
		&userAddFlags.Home, "home", "", "Home directory as store:bucket/path",
	)
	userAddCmd.Flags().StringVar(
		&userAddFlags.WritePath, "write-path", "", "Physical path the user may write under, defaults to the home",
	)
	userAddCmd.Flags().BoolVar(
		&userAddFlags.ReadOnly, "read-only", false, "Deny all writes",
	)
	userAddCmd.MarkFlagRequired("home")

	rootCmd.Execute()
}
