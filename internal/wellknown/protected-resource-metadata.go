// Package wellknown serves OAuth 2.0 Protected Resource Metadata
// (RFC 9728) so clients can discover the issuer guarding the server.
package wellknown

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ProtectedResourcePath is the well-known path of the metadata document.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// MetadataURL returns the absolute URL of the metadata document for the
// resource at resourceURL, inserting the well-known prefix before its path.
func MetadataURL(resourceURL string) (string, error) {
	u, err := url.Parse(resourceURL)
	if err != nil {
		return "", fmt.Errorf("parse resource url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("resource url %q must be absolute", resourceURL)
	}
	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: ProtectedResourcePath + u.Path}
	return out.String(), nil
}

// Handler serves doc on GET and answers CORS preflight on OPTIONS.
func Handler(doc ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet, http.MethodHead:
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(doc); err != nil {
				http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
			}
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
