package common

import "github.com/gin-gonic/gin"

// Fail aborts with the {"detail": ...} error body the chat clients read.
func Fail(c *gin.Context, httpStatus int, detail string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{"detail": detail})
}
