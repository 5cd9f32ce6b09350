package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/database"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/pkg/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	flagUserEmail string
	flagUserName  string
	flagUserID    string
	flagUserAdmin bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user and print an access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.ToLower(strings.TrimSpace(flagUserEmail))
		name := strings.TrimSpace(flagUserName)
		if email == "" || name == "" {
			return errors.New("--email and --name are required")
		}

		user := models.User{Email: email, DisplayName: name, Role: models.UserRoleUser}
		if flagUserAdmin {
			user.Role = models.UserRoleAdmin
		}
		if flagUserID != "" {
			id, err := uuid.Parse(flagUserID)
			if err != nil {
				return errors.Wrapf(err, "invalid --id %q", flagUserID)
			}
			user.ID = id
		}

		db, err := database.Connect(cfg.DB)
		if err != nil {
			return errors.Wrap(err, "database connection failed")
		}
		if err := db.WithContext(cmd.Context()).Create(&user).Error; err != nil {
			return errors.Wrapf(err, "creating user %s", email)
		}

		return printToken(cmd, &user)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <email>",
	Short: "Issue an access token for an existing user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DB)
		if err != nil {
			return errors.Wrap(err, "database connection failed")
		}

		var user models.User
		email := strings.ToLower(strings.TrimSpace(args[0]))
		if err := db.WithContext(cmd.Context()).Where("LOWER(email) = ?", email).First(&user).Error; err != nil {
			return errors.Wrapf(err, "looking up user %s", email)
		}
		return printToken(cmd, &user)
	},
}

func printToken(cmd *cobra.Command, user *models.User) error {
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	token, err := utils.GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return errors.Wrap(err, "signing token")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:  %s (%s)\n", user.Email, user.ID)
	fmt.Fprintf(out, "Role:  %s\n", user.Role)
	fmt.Fprintf(out, "Token: %s\n", token)
	return nil
}

func init() {
	userCreateCmd.Flags().StringVar(&flagUserEmail, "email", "", "Email address")
	userCreateCmd.Flags().StringVar(&flagUserName, "name", "", "Display name")
	userCreateCmd.Flags().StringVar(&flagUserID, "id", "", "Fixed user id (defaults to a new uuid)")
	userCreateCmd.Flags().BoolVar(&flagUserAdmin, "admin", false, "Grant the admin role")

	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd, tokenCmd)
}
