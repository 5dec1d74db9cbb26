package main

import (
	"fmt"

	"github.com/technosupport/ts-siteguard/internal/crypto"
)

func main() {
	key, err := crypto.GenerateMasterKey()
	if err != nil {
		panic(err)
	}
	fmt.Printf("CREDENTIALS_MASTER_KEY=%s\n", key)
}
