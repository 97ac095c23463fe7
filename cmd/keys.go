package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/payva/go-payva-auth/util"
	"github.com/spf13/cobra"
)

var outputFile string

func init() {
	keysCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default is stdout)")
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(custodySecretCmd)
}

// keysCmd generates the ed25519 session signing keys the server loads at startup
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate ed25519 session signing keys",
	Long:  "Generate the ed25519 key pair the server signs session tokens with",
	Run: func(cmd *cobra.Command, args []string) {
		// Generate ed25519 keys
		_, private, err := util.GenerateEd25519KeyPair()
		if err != nil {
			panic(err)
		}
		keysJson := map[string]interface{}{
			"type":       "payva_server_keys_ed25519",
			"privateKey": *private,
			"created":    time.Now().UnixMilli(),
		}
		fileBytes, err := json.MarshalIndent(keysJson, "", "  ")
		check(err)
		if outputFile != "" {
			// save keys to disk in a file
			// fail if file already exists
			if _, err := os.Stat(outputFile); !errors.Is(err, os.ErrNotExist) {
				fmt.Printf("File already exists: %s\n", outputFile)
				os.Exit(1)
			}
			err = os.WriteFile(outputFile, fileBytes, 0600)
			check(err)
			fmt.Printf("Output file: %s\n", outputFile)
		} else {
			fmt.Printf("\n%s\n", string(fileBytes))
		}
	},
}

// custodySecretCmd generates the hex master secret the custody key derives from
var custodySecretCmd = &cobra.Command{
	Use:   "custody-secret",
	Short: "Generate a custody master secret",
	Long:  "Generate a random master secret (hex) for the custody.masterSecretHex config entry",
	Run: func(cmd *cobra.Command, args []string) {
		secret := make([]byte, util.MinMasterSecretBytes)
		_, err := rand.Read(secret)
		check(err)
		fmt.Printf("%s\n", hex.EncodeToString(secret))
	},
}
