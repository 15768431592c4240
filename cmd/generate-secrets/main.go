package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/utils"
	"github.com/rentflow/rental-backend/pkg/jwt"
)

func main() {
	companyID := flag.String("company", "", "company id to mint a development staff token for")
	email := flag.String("email", "dev@rentflow.local", "staff email for the development token")
	roles := flag.String("roles", jwt.RoleOwner, "comma separated staff roles")
	expiry := flag.Duration("expiry", 24*time.Hour, "development token lifetime")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("JWT Secret Generator for RentFlow")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateJWTSecret()
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("✅ Secret generated successfully!")
	fmt.Println()
	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)
	fmt.Println()

	if *companyID != "" {
		company, err := uuid.Parse(*companyID)
		if err != nil {
			log.Fatalf("Invalid company id: %v", err)
		}

		svc := jwt.NewService(secret, *expiry)
		token, err := svc.GenerateAccessToken(uuid.New(), company, *email, strings.Split(*roles, ","))
		if err != nil {
			log.Fatalf("Failed to mint staff token: %v", err)
		}

		fmt.Println("Development staff token (signed with the secret above):")
		fmt.Println()
		fmt.Printf("Authorization: Bearer %s\n", token)
		fmt.Println()
	}

	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
