/*
SPIFFE Integration
Gives the activity probe a cryptographic workload identity so it can reach
the assessment API over mTLS instead of a shared bearer secret.
*/

package identity

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// WorkloadIdentity wraps an X.509 SVID source obtained from a SPIRE agent.
type WorkloadIdentity struct {
	source *workloadapi.X509Source
}

// NewWorkloadIdentity connects to the SPIRE agent listening on socketPath
// (e.g. unix:///run/spire/sockets/agent.sock).
func NewWorkloadIdentity(socketPath string) (*WorkloadIdentity, error) {
	// Use a timeout to avoid blocking startup when SPIRE agent is unavailable
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SPIRE: %w", err)
	}

	slog.Info("Connected to SPIRE agent", "socket_path", socketPath)
	return &WorkloadIdentity{source: source}, nil
}

// SpiffeID returns this workload's own SPIFFE ID.
func (wi *WorkloadIdentity) SpiffeID() (string, error) {
	svid, err := wi.source.GetX509SVID()
	if err != nil {
		return "", fmt.Errorf("failed to get SVID: %w", err)
	}
	return svid.ID.String(), nil
}

// MTLSClientConfig returns a client TLS config backed by the SVID source.
// When trustDomain is set, the server must be a member of it; otherwise any
// SVID is accepted.
func (wi *WorkloadIdentity) MTLSClientConfig(trustDomain string) (*tls.Config, error) {
	authorizer := tlsconfig.AuthorizeAny()
	if trustDomain != "" {
		td, err := spiffeid.TrustDomainFromString(trustDomain)
		if err != nil {
			return nil, fmt.Errorf("invalid trust domain: %w", err)
		}
		authorizer = tlsconfig.AuthorizeMemberOf(td)
	}
	return tlsconfig.MTLSClientConfig(wi.source, wi.source, authorizer), nil
}

// HTTPClient builds an http.Client that talks mTLS using the workload SVID.
func (wi *WorkloadIdentity) HTTPClient(timeout time.Duration, trustDomain string) (*http.Client, error) {
	tlsConf, err := wi.MTLSClientConfig(trustDomain)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConf},
	}, nil
}

// Close releases the SVID source.
func (wi *WorkloadIdentity) Close() error {
	return wi.source.Close()
}

// ProbeID builds the SPIFFE ID a probe deployment registers under.
func ProbeID(trustDomain string) string {
	return fmt.Sprintf("spiffe://%s/vigil/probe", trustDomain)
}

// Example SPIFFE IDs:
// spiffe://vigil.example.com/vigil/probe
// spiffe://vigil.example.com/vigil/api
