package repository

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/types"
)

func createDesignAndView(databaseName string, designName string, viewName string, mapFunction string, reduceFunction string) error {
	client := resty.New().SetTimeout(time.Second*10).SetBasicAuth(global.Conf.CouchDB.Username, global.Conf.CouchDB.Password)

	scheme := global.Conf.CouchDB.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := fmt.Sprintf("%s://%s", scheme, global.Conf.CouchDB.Host)
	if global.Conf.CouchDB.Port != 0 {
		host = fmt.Sprintf("%s://%s:%d", scheme, global.Conf.CouchDB.Host, global.Conf.CouchDB.Port)
	}

	// check if the view already exists
	url := fmt.Sprintf("%s/%s/_design/%s/_view/%s", host, databaseName, designName, viewName)
	existingResponse, eErr := client.R().Head(url)
	if eErr != nil {
		return eErr
	}
	if existingResponse.StatusCode() == 200 {
		return nil // view already exists
	}
	if existingResponse.IsError() && existingResponse.StatusCode() != 404 {
		return fmt.Errorf("failed checking design %s with view %s: %s", designName, viewName, existingResponse.String())
	}

	ddoc := &types.DesignDocument{
		Language: "javascript",
		Views: map[string]types.MapFunction{
			viewName: {
				Map: mapFunction,
			},
		},
	}
	if reduceFunction != "" {
		temp := ddoc.Views[viewName]
		temp.Reduce = reduceFunction
		ddoc.Views[viewName] = temp
	}
	url = fmt.Sprintf("%s/%s/_design/%s", host, databaseName, designName)
	resp, err := client.R().SetBody(ddoc).Put(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("failed creating design %s: %s", designName, resp.String())
	}
	return nil
}

// CreateDesign_DeleteExpiredRecordsByCreatedDate indexes documents by their
// created timestamp so expired authstate and recovery records can be swept.
func CreateDesign_DeleteExpiredRecordsByCreatedDate(databaseName string, designName string, viewName string) error {
	mapFunction := `function(doc)
						{
							if (doc.created) {
								emit(doc.created, doc._rev);
							}
						}`
	return createDesignAndView(databaseName, designName, viewName, mapFunction, "")
}
