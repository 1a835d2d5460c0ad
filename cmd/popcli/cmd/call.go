package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gobeyondidentity/perimeter/pkg/auth"
	"github.com/gobeyondidentity/perimeter/pkg/clierror"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/spf13/cobra"
)

// serverErrorCode pulls the error code out of a JSON error body. Empty when
// the body is not the server's error shape.
func serverErrorCode(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error
}

func init() {
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(proofCmd)

	callCmd.Flags().StringP("method", "X", "GET", "HTTP method")
	callCmd.Flags().String("fingerprint", "", "Path to a JSON device fingerprint to send with the request")
	callCmd.Flags().String("data", "", "Request body")

	proofCmd.Flags().StringP("method", "X", "GET", "HTTP method")
}

var callCmd = &cobra.Command{
	Use:   "call <path>",
	Short: "Make an authenticated API call",
	Long: `Make an API call to the registered server. Each call carries the
bearer token plus a freshly signed single-use proof bound to the exact
method and URL, so a captured request cannot be replayed elsewhere.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		fpPath, _ := cmd.Flags().GetString("fingerprint")
		data, _ := cmd.Flags().GetString("data")

		cfg, err := loadCLIConfig()
		if err != nil {
			return err
		}
		key, err := loadDeviceKey()
		if err != nil {
			return err
		}

		url := cfg.ServerURL + args[0]

		var body io.Reader
		if data != "" {
			body = strings.NewReader(data)
		}
		req, err := http.NewRequest(strings.ToUpper(method), url, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
		if data != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		signer := dpop.NewSigner(key.private)
		if err := signer.SignRequest(req, cfg.DeviceKeyID); err != nil {
			return err
		}

		if fpPath != "" {
			fpData, err := os.ReadFile(fpPath)
			if err != nil {
				return fmt.Errorf("failed to read fingerprint file: %w", err)
			}
			var compact json.RawMessage
			if err := json.Unmarshal(fpData, &compact); err != nil {
				return fmt.Errorf("failed to parse fingerprint file: %w", err)
			}
			req.Header.Set(auth.FingerprintHeader, base64.StdEncoding.EncodeToString(compact))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return clierror.ConnectionFailed(cfg.ServerURL)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if resp.StatusCode >= 400 {
			fmt.Printf("%s %s %s\n", errFmt(resp.Status), method, url)
			if len(respBody) > 0 {
				fmt.Println(strings.TrimRight(string(respBody), "\n"))
			}
			return clierror.FromStatus(resp.StatusCode, serverErrorCode(respBody))
		}

		fmt.Printf("%s %s %s\n", okFmt(resp.Status), method, url)
		if len(respBody) > 0 {
			fmt.Println(strings.TrimRight(string(respBody), "\n"))
		}
		return nil
	},
}

var proofCmd = &cobra.Command{
	Use:   "proof <url>",
	Short: "Generate a standalone proof JWT",
	Long: `Generate a proof JWT for the given method and URL without sending a
request. Useful for debugging and for driving other HTTP clients.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")

		key, err := loadDeviceKey()
		if err != nil {
			return err
		}

		// Include the kid when registered so the server can look the key up;
		// fall back to an embedded jwk otherwise.
		kid := ""
		if cfg, err := loadCLIConfig(); err == nil {
			kid = cfg.DeviceKeyID
		}

		proof, err := dpop.GenerateProof(key.private, strings.ToUpper(method), args[0], kid)
		if err != nil {
			return err
		}

		if done, err := formatOutput(map[string]string{"proof": proof}); done {
			return err
		}
		fmt.Println(proof)
		return nil
	},
}
