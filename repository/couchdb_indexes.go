package repository

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CreateWalletAddressIndex creates an index on the wallets database for
// lookups by public address.
func CreateWalletAddressIndex(walletRepo Repository) error {
	addressIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"address"},
		},
		"name": "wallet-address-index",
		"type": "json",
		"ddoc": "wallet-address-index",
	}
	c := walletRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(addressIndex).Post(fmt.Sprintf("%s/%s", Wallet, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return handleError(resp)
	}
	return nil
}

// CreateAuditWalletIndex creates an index on the audit database so the trail
// of a single wallet can be read back in order.
func CreateAuditWalletIndex(auditRepo Repository) error {
	auditIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []map[string]interface{}{
				{"walletId": "desc"},
				{"created": "desc"},
			},
		},
		"name": "audit-wallet-created-index",
		"ddoc": "audit-wallet-created-index",
		"type": "json",
	}
	c := auditRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(auditIndex).Post(fmt.Sprintf("%s/%s", WalletAudit, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return handleError(resp)
	}
	return nil
}
