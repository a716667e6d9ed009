// Package translator adapts between the public Cloud Datastore v1 message
// shapes and the legacy in-process datastore service.
//
// Each RPC follows the same path: validate and convert the v1 request into
// legacy messages, issue one or more synchronous calls through the injected
// stub.Gateway, and convert the answers back. Failures carry gRPC status
// codes end to end; the HTTP layer maps them onto wire responses.
package translator

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cloudshims/dsbridge/stub"
)

// Translator converts v1 requests into legacy calls against a single app.
type Translator struct {
	// appID is the runtime identifier, possibly carrying a partition
	// prefix such as "dev~". projectID is the external form with the
	// prefix stripped.
	appID     string
	projectID string

	gw  stub.Gateway
	log *logrus.Logger
}

// New returns a Translator bound to the given runtime app identifier and
// stub gateway. logger may be nil.
func New(appID string, gw stub.Gateway, logger *logrus.Logger) *Translator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Translator{
		appID:     appID,
		projectID: StripPartitionPrefix(appID),
		gw:        gw,
		log:       logger,
	}
}

// ProjectID returns the external project identifier served by this
// translator.
func (t *Translator) ProjectID() string {
	return t.projectID
}

// StripPartitionPrefix removes a "dev~"-style partition prefix from a
// runtime app identifier, yielding the external project identifier.
func StripPartitionPrefix(appID string) string {
	if i := strings.Index(appID, "~"); i >= 0 {
		return appID[i+1:]
	}
	return appID
}
