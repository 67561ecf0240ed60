package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"snare/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// HandleKeyGenerate writes a fresh API_JWT_SECRET into .env.
func HandleKeyGenerate() {
	key, err := generateKey(".env")
	if err != nil {
		fmt.Printf("❌ Failed to update .env: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("🔑 Generated New API Key: %s\n", key)
	fmt.Printf("✅ Success! API_JWT_SECRET has been updated in your .env file.\n")
}

func generateKey(envFile string) (string, error) {
	key, err := randomKey(32)
	if err != nil {
		return "", err
	}

	env, err := godotenv.Read(envFile)
	if errors.Is(err, os.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return "", err
	}

	env["API_JWT_SECRET"] = key
	return key, godotenv.Write(env, envFile)
}

func randomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HandleToken prints a bearer token for the API signed with API_JWT_SECRET.
func HandleToken(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Config Error: %v\n", err)
		os.Exit(1)
	}
	if err := issueToken(os.Stdout, cfg.JWTSecret, args); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

func issueToken(stdout io.Writer, secret string, args []string) error {
	if secret == "" {
		return errors.New("API_JWT_SECRET is not set (run: snare key:generate)")
	}

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stdout)
	sub := fs.String("sub", "snare-cli", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   *sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, signed)
	return nil
}
