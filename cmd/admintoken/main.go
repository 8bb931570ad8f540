package main

// Issue an admin token for the operator endpoints:
//   JWT_SECRET=... go run ./cmd/admintoken -operator ops@fastcar -ttl 12h

import (
	"flag"
	"fmt"
	"log"

	"insurance-bot/internal/shared/auth"
	"insurance-bot/internal/shared/config"
)

func main() {
	operator := flag.String("operator", "", "operator identity embedded in the token")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.Env)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	token, err := signer.SignAdmin(*operator, *ttl)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(token)
}
