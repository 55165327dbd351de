// Package handlers holds the shared plumbing for the HTTP surface: the
// dependency bundle passed to every handler constructor, JSON helpers, and
// the request validator.
package handlers

import (
	"encoding/json"
	"net/http"

	engerr "cloutcast/errors"
	"cloutcast/ledger"
	"cloutcast/resolution"
	"cloutcast/security"
	"cloutcast/setup"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Env bundles what handlers need. One value is built at startup and shared.
type Env struct {
	DB          *gorm.DB
	Log         *logrus.Logger
	Cfg         setup.Config
	Ledger      *ledger.Ledger
	Coordinator *resolution.Coordinator
	Sanitizer   *security.Service
}

// Validate checks request structs against their `validate` tags.
var Validate = validator.New()

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError translates an engine error into its HTTP status with a JSON
// body. Internal faults are masked; the detail is already logged where it
// happened.
func WriteError(w http.ResponseWriter, err error) {
	status := engerr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteBadRequest is for malformed input caught before the engine runs.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
