package main

import (
	"errors"
	"strconv"

	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/repository"
	"github.com/payva/go-payva-auth/services"
	"github.com/payva/go-payva-auth/types"
)

// Configure DB Repositories and create DB Selector
func ConfigDBSelector() repository.DBSelector {
	// configure Repository (couchDB)
	repoUrl := global.Conf.CouchDB.Scheme + "://" + global.Conf.CouchDB.Host + ":" + strconv.Itoa(global.Conf.CouchDB.Port)
	walletRepo, walletRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Wallet, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	mappingRepo, mappingRepoErr := repository.NewCouchDBRepository(repoUrl, repository.WalletMapping, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	auditRepo, auditRepoErr := repository.NewCouchDBRepository(repoUrl, repository.WalletAudit, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	recoveryRepo, recoveryRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Recovery, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	authStateRepo, authStateRepoErr := repository.NewCouchDBRepository(repoUrl, repository.AuthState, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)

	repoErr := errors.Join(walletRepoErr, mappingRepoErr, auditRepoErr, recoveryRepoErr, authStateRepoErr)
	if repoErr != nil {
		global.Logger.Log("error", "Failed to create repositories", "error", repoErr.Error())
		panic(repoErr)
	}

	// REPOSITORY definitions
	dbSelector := repository.NewCouchDBSelector()
	dbSelector.AddDB(walletRepo)
	dbSelector.AddDB(mappingRepo)
	dbSelector.AddDB(auditRepo)
	dbSelector.AddDB(recoveryRepo)
	dbSelector.AddDB(authStateRepo)

	return dbSelector
}

func ConfigDBIndexing(dbSelector *repository.CouchDBSelector, environment *types.Environment) {
	// CREATE REQUIRED SERVICES
	authStateService := services.NewAuthStateService(dbSelector)

	// Create INDEXES
	walletRepo, wErr := dbSelector.ChooseDB(repository.Wallet)
	if wErr != nil {
		panic(wErr)
	}
	auditRepo, aErr := dbSelector.ChooseDB(repository.WalletAudit)
	if aErr != nil {
		panic(aErr)
	}

	if iErr := repository.CreateWalletAddressIndex(walletRepo); iErr != nil {
		panic(iErr)
	}
	if iErr := repository.CreateAuditWalletIndex(auditRepo); iErr != nil {
		panic(iErr)
	}

	// Create DESIGN DOCUMENTS
	// design documents returning documents older than N minutes, for the sweeps
	repository.CreateDesign_DeleteExpiredRecordsByCreatedDate(repository.AuthState, "authstate", "old")
	repository.CreateDesign_DeleteExpiredRecordsByCreatedDate(repository.Recovery, "recovery", "old")

	// cron jobs
	environment.Cron.AddFunc("@every 5m", authStateService.RemoveExpiredStates) // remove expired state values every 5 minutes
	environment.Cron.Start()
	go authStateService.RemoveExpiredStates() // run once on startup
}
