package repository

import "github.com/payva/go-payva-auth/types"

const (
	// CouchDB database names
	Wallet        = "wallets"        // wallet records keyed by identity id
	WalletMapping = "wallet_mapping" // hashed email -> identity/wallet id
	WalletAudit   = "wallet_audit"   // append-only audit trail
	Recovery      = "recovery"       // pending recovery requests keyed by hashed email
	AuthState     = "authstate"      // anti-forgery state nonces for the login flow
)

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the database selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}
