package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"insurance-bot/internal/policy"
	"insurance-bot/internal/registration"
)

func main() {
	outPath := flag.String("out", "./out/sample_policy.pdf", "output path for the generated policy")
	narrative := flag.String("narrative", "Thank you for choosing FastCar Insurance, John. Enjoy every mile of your Santa FE.", "paragraph printed on the policy")
	flag.Parse()

	p := registration.NewPolicy("demo-user", "", time.Now())
	doc := policy.FromPolicy(p, map[string]string{
		"FullName": "John Doe",
		"VIN":      "1HGBH41JXMN109186",
		"Make":     "Hundai",
		"Model":    "Santa FE",
		"Year":     "2025",
	}, *narrative)

	pdf, err := policy.PDFRenderer{}.Render(context.Background(), doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, pdf, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: wrote %s (policy %s)\n", *outPath, p.PolicyNumber)
}
