package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Detector is a named pattern tested against the full URL string.
type Detector struct {
	Name    string
	Pattern *regexp.Regexp
}

// Pattern is the uncompiled form of a Detector, used for configuration.
type Pattern struct {
	Name  string `json:"name" yaml:"name"`
	Regex string `json:"regex" yaml:"regex"`
}

const (
	DetectorJWT          = "JWT Token"
	DetectorAWS          = "AWS Key"
	DetectorGitHub       = "GitHub Token"
	DetectorStripe       = "Stripe Key"
	DetectorFacebook     = "Facebook Token"
	DetectorSlack        = "Slack Token"
	DetectorGoogle       = "Google API Key"
	DetectorSendGrid     = "SendGrid Key"
	DetectorSlackWebhook = "Slack Webhook"
	DetectorPrivateKey   = "Private Key"
	DetectorCredentials  = "URL Credentials"
	DetectorPassword     = "Password"
	DetectorAPIKey       = "API Key"
	DetectorToken        = "Token"
	DetectorSecret       = "Secret"
	DetectorAccessToken  = "Access Token"
	DetectorClientSecret = "Client Secret"
)

// Order matters: the first matching detector wins, so provider specific
// formats sit ahead of the generic query parameter detectors.
var defaultPatterns = []Pattern{
	{DetectorJWT, `eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`},
	{DetectorAWS, `AKIA[0-9A-Z]{16}`},
	{DetectorGitHub, `ghp_[a-zA-Z0-9]{36}`},
	{DetectorStripe, `sk_live_[0-9a-zA-Z]{24}`},
	{DetectorFacebook, `EAACEdEose0cBA[0-9A-Za-z]+`},
	{DetectorSlack, `xox[baprs]-[0-9a-zA-Z]{10,48}`},
	{DetectorGoogle, `AIza[0-9A-Za-z_-]{35}`},
	{DetectorSendGrid, `SG\.[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{43}`},
	{DetectorSlackWebhook, `hooks\.slack\.com/services/T[A-Za-z0-9_]+/B[A-Za-z0-9_]+/[A-Za-z0-9_]+`},
	{DetectorPrivateKey, `(?i)-----BEGIN[ A-Z]*PRIVATE KEY-----|BEGIN(?:%20|\+)(?:[A-Z]+(?:%20|\+))?PRIVATE(?:%20|\+)KEY`},
	{DetectorCredentials, `[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:[^/\s@]+@`},
	{DetectorPassword, `(?i)[?&]password=[^&\s]+`},
	{DetectorAPIKey, `(?i)[?&]api[_-]?key=[^&\s]+`},
	{DetectorToken, `(?i)[?&]token=[^&\s]+`},
	{DetectorSecret, `(?i)[?&]secret=[^&\s]+`},
	{DetectorAccessToken, `(?i)[?&]access[_-]?token=[^&\s]+`},
	{DetectorClientSecret, `(?i)[?&]client[_-]?secret=[^&\s]+`},
}

// Patterns returns the default detector patterns in evaluation order.
func Patterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

func compilePatterns(patterns []Pattern) ([]Detector, error) {
	detectors := make([]Detector, 0, len(patterns))
	for _, p := range patterns {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("detector with pattern %q has no name", p.Regex)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling detector %q: %w", name, err)
		}
		detectors = append(detectors, Detector{Name: name, Pattern: re})
	}
	return detectors, nil
}

// jwtMetadata decodes the header of a matched token without verifying it.
func jwtMetadata(tokens []string) map[string]string {
	parser := jwt.NewParser()
	for _, raw := range tokens {
		token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
		if err != nil || token == nil {
			continue
		}
		meta := make(map[string]string, 2)
		if alg, ok := token.Header["alg"].(string); ok && alg != "" {
			meta["alg"] = alg
		}
		if typ, ok := token.Header["typ"].(string); ok && typ != "" {
			meta["typ"] = typ
		}
		if len(meta) == 0 {
			continue
		}
		return meta
	}
	return nil
}
