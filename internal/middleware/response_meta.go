package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const responseMetaKey = "archiver.response_meta"

// Where an export status snapshot was read from.
const (
	ProgressFromCache    = "cache"
	ProgressFromDatabase = "database"
)

// WithResponseMeta gives each request a metadata map that handlers fill in
// and pass to response.JSON. The elapsed time is added once the chain returns.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
		meta := responseMeta(c)
		if _, ok := meta["processing_time_ms"]; !ok {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetProgressSource notes whether a status response came from the running
// progress snapshot or the stored export row.
func SetProgressSource(c *gin.Context, fromCache bool) {
	source := ProgressFromDatabase
	if fromCache {
		source = ProgressFromCache
	}
	responseMeta(c)["progress_source"] = source
}

// ExtractMeta returns the request's metadata, or nil when WithResponseMeta
// did not run and nothing was recorded.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, ok := c.Get(responseMetaKey)
	if !ok {
		return nil
	}
	meta, _ := value.(map[string]interface{})
	return meta
}

func responseMeta(c *gin.Context) map[string]interface{} {
	if meta := ExtractMeta(c); meta != nil {
		return meta
	}
	meta := map[string]interface{}{}
	if c != nil {
		c.Set(responseMetaKey, meta)
	}
	return meta
}
