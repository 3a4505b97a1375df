package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Api struct {
	statusService *Service
}

func NewApi(statusService *Service) *Api {
	return &Api{
		statusService: statusService,
	}
}

func (api *Api) RegisterHandlers(r gin.IRouter) {
	r.GET("/health", api.GetHealth)
}

// GetHealth answers 503 while shutting down. Failing dependency checks are
// reported as degraded but keep a 200, since the coordinator serves from local
// state when its ledger or content store is down.
func (api *Api) GetHealth(c *gin.Context) {
	if api.statusService.IsShuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "shutting down",
		})
		return
	}

	failures := api.statusService.Run(c.Request.Context())
	if len(failures) > 0 {
		c.JSON(http.StatusOK, gin.H{
			"status": "degraded",
			"checks": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
