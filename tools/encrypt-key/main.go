package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/yourusername/wordpress-backup/internal/crypto"
)

func main() {
	in := flag.String("in", "", "PEM private key file (default stdin)")
	generate := flag.Bool("generate", false, "Print a new random ENCRYPTION_KEY and exit")
	flag.Parse()

	if *generate {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			log.Fatal(err)
		}
		fmt.Println(base64.StdEncoding.EncodeToString(key))
		return
	}

	em, err := crypto.NewEncryptionManager()
	if err != nil {
		log.Fatalf("ENCRYPTION_KEY is required (use -generate to create one): %v", err)
	}

	var pemData []byte
	if *in == "" {
		pemData, err = io.ReadAll(os.Stdin)
	} else {
		pemData, err = os.ReadFile(*in)
	}
	if err != nil {
		log.Fatalf("Failed to read key: %v", err)
	}
	if len(pemData) == 0 {
		log.Fatal("Key material is empty")
	}
	if crypto.IsWrappedKey(pemData) {
		log.Fatal("Key is already wrapped")
	}

	wrapped, err := em.WrapKey(pemData)
	if err != nil {
		log.Fatalf("Failed to wrap key: %v", err)
	}
	fmt.Print(wrapped)
}
