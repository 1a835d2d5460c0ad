package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gobeyondidentity/perimeter/pkg/clierror"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/gobeyondidentity/perimeter/pkg/timeutil"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage registered device keys",
}

type deviceListEntry struct {
	ID         string     `json:"id"`
	Thumbprint string     `json:"thumbprint"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
	Active     bool       `json:"active"`
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List device keys registered to this account",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := authenticatedRequest(http.MethodGet, "/api/v1/devices", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return clierror.FromStatus(resp.StatusCode, serverErrorCode(msg))
		}

		var devices []deviceListEntry
		if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
			return fmt.Errorf("failed to parse device list: %w", err)
		}

		if done, err := formatOutput(devices); done {
			return err
		}

		if len(devices) == 0 {
			fmt.Println("No device keys registered.")
			return nil
		}

		fmt.Printf("%-40s %-14s %-8s %s\n", "ID", "THUMBPRINT", "ACTIVE", "LAST USED")
		for _, d := range devices {
			thumb := d.Thumbprint
			if len(thumb) > 12 {
				thumb = thumb[:12]
			}
			lastUsed := dimFmt("never")
			if d.LastUsed != nil {
				lastUsed = timeutil.Relative(*d.LastUsed)
			}
			fmt.Printf("%-40s %-14s %-8t %s\n", d.ID, thumb, d.Active, lastUsed)
		}
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <device-key-id>",
	Short: "Revoke a device key",
	Long: `Deactivate a device key. Tokens bound to the key stop working
immediately; the device must register a new key to regain access.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := authenticatedRequest(http.MethodDelete, "/api/v1/devices/"+args[0], nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode == http.StatusNotFound {
				return clierror.KeyNotFound(args[0])
			}
			return clierror.FromStatus(resp.StatusCode, serverErrorCode(msg))
		}

		fmt.Printf("%s Device key %s revoked\n", okFmt("OK"), args[0])
		return nil
	},
}

// authenticatedRequest performs a proof-bound request against the registered
// server using the stored token and device key.
func authenticatedRequest(method, path string, body io.Reader) (*http.Response, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	key, err := loadDeviceKey()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, cfg.ServerURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)

	signer := dpop.NewSigner(key.private)
	if err := signer.SignRequest(req, cfg.DeviceKeyID); err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, clierror.ConnectionFailed(cfg.ServerURL)
	}
	return resp, nil
}
