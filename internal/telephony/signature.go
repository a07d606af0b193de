package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"delivery-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature returns the X-Twilio-Signature value for a POST to fullURL with params.
// Ref: https://www.twilio.com/docs/usage/security#validating-requests
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}

// RequireTwilioSignature rejects webhook requests whose signature does not match.
//
// publicBaseURL is the externally visible scheme+host Twilio was configured with; the request
// path and query are appended to it. Proxies rewrite Host, so the request's own Host is not used.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		log := logger.FromGin(c)
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		if !ValidSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
			log.Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
