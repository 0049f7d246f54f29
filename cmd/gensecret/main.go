// Prints a random hex secret suitable for SECRET_KEY or INTERNAL_TOKEN.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const secretBytesLen = 32

func main() {
	b := make([]byte, secretBytesLen)

	if _, err := rand.Read(b); err != nil {
		fmt.Printf("error while generating secret: %v", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(b))
}
