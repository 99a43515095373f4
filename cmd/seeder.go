package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oneflow-erp/oneflow-api/internal/auth"
	userDatamodel "github.com/oneflow-erp/oneflow-api/internal/core/datamodel/user"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with one user per role",
	Long:  `Seed the database with sample users for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if cfg.IsProduction() {
			log.Fatal("refusing to seed a production database")
		}

		db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		if clearData {
			if err := db.Exec("DELETE FROM users").Error; err != nil {
				log.Fatalf("failed to clear users: %v", err)
			}
			fmt.Println("Cleared users")
		}

		hash, err := auth.NewBcryptHasher(cfg.Security.BCryptCost).HashPassword(seedPassword)
		if err != nil {
			log.Fatalf("failed to hash seed password: %v", err)
		}

		for _, u := range seedUsers(hash) {
			created, err := seedUser(db, u)
			if err != nil {
				log.Fatalf("failed to seed %s: %v", u.Email, err)
			}
			if created {
				fmt.Printf("Seeded %s user: %s\n", u.Role, u.Email)
			} else {
				fmt.Printf("%s user already exists: %s\n", u.Role, u.Email)
			}
		}
	},
}

func seedUsers(hash string) []userDatamodel.User {
	out := make([]userDatamodel.User, 0, len(coreuser.Roles))
	for _, role := range coreuser.Roles {
		name := strings.ReplaceAll(string(role), "_", " ")
		out = append(out, userDatamodel.User{
			Name:         strings.ToUpper(name[:1]) + name[1:],
			Email:        strings.ReplaceAll(string(role), "_", ".") + "@oneflow.local",
			PasswordHash: hash,
			Role:         string(role),
			IsActive:     true,
			Version:      1,
		})
	}
	return out
}

// seedUser inserts u unless an active row already holds its email.
func seedUser(db *gorm.DB, u userDatamodel.User) (bool, error) {
	var existing userDatamodel.User
	result := db.Where("email = ? AND is_active = ?", u.Email, true).
		Attrs(u).
		FirstOrCreate(&existing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "Passw0rd!", "Password given to every seeded user")
}
