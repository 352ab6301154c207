// Package main is a development utility that prints a random SDB_JWT_SECRET and, when a
// password is passed as the first argument, its bcrypt hash with a SQL statement that
// resets a local user's password. Do not use it against production databases.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"github.com/sales-dashboard/sales-dashboard/internal/auth"
)

func main() {
	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Printf("SDB_JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
	fmt.Println("==========================================================")

	if len(os.Args) < 2 {
		return
	}

	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\nPassword hash: %s\n", hash)
	fmt.Println("\nSQL Update:")
	fmt.Printf(`
UPDATE users
SET password_hash = '%s', status = 'active'
WHERE email = 'admin@dev.local';
`, hash)
	fmt.Println("==========================================================")
}
