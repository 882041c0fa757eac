package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketing-analytics/models"
	"marketing-analytics/service"
	"marketing-analytics/stats"
	"marketing-analytics/utils"
)

type ClientHandler struct {
	ledger *service.Ledger
	mirror models.Repository
	cache  utils.RedisClient
	search utils.ElasticsearchClient
	index  string
}

// NewClientHandler serves the dashboard API. mirror, cache and search may be
// nil; the endpoints backed by them then answer 503.
func NewClientHandler(ledger *service.Ledger, mirror models.Repository, cache utils.RedisClient, search utils.ElasticsearchClient, index string) *ClientHandler {
	return &ClientHandler{
		ledger: ledger,
		mirror: mirror,
		cache:  cache,
		search: search,
		index:  index,
	}
}

// Register mounts every dashboard route on group.
func (h *ClientHandler) Register(group *gin.RouterGroup) {
	group.POST("/visits", h.CreateVisit)
	group.GET("/clients/:id/history", h.GetHistoryByID)
	group.DELETE("/clients", h.DeleteClients)
	group.GET("/history", h.GetHistory)

	group.POST("/mailing", h.CreateMailingContact)
	group.GET("/mailing", h.ListMailingContacts)
	group.DELETE("/mailing", h.DeleteMailingContacts)

	group.GET("/stats/today", h.GetTodayStats)
	group.GET("/stats/month", h.GetMonthStats)
	group.GET("/months", h.ListMonths)
	group.GET("/analytics", h.GetAnalytics)
	group.GET("/export.csv", h.ExportCSV)
	group.GET("/export.xlsx", h.ExportXLSX)

	group.GET("/services", h.ListServices)
	group.GET("/directions", h.ListDirections)
	group.GET("/referrers", h.ListReferrers)

	group.GET("/search", h.Search)
	group.GET("/mirror/clients/:id", h.GetMirroredVisits)
	group.GET("/mirror/visits/:id", h.GetMirroredVisit)
}

type DeleteRequest struct {
	Names []string `json:"names" binding:"required,min=1,dive,required"`
}

type ServiceResponse struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

func (h *ClientHandler) CreateVisit(c *gin.Context) {
	var req models.VisitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ledger.AddVisit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Updated {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *ClientHandler) CreateMailingContact(c *gin.Context) {
	var req models.MailingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	visit, err := h.ledger.AddMailingContact(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, visit)
}

func (h *ClientHandler) ListMailingContacts(c *gin.Context) {
	contacts, err := h.ledger.MailingContacts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *ClientHandler) DeleteClients(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.ledger.DeleteClients(c.Request.Context(), req.Names)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}

func (h *ClientHandler) DeleteMailingContacts(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.ledger.DeleteMailingContacts(c.Request.Context(), req.Names)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}

func (h *ClientHandler) GetHistory(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client name is required"})
		return
	}

	history, err := h.ledger.ClientHistory(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ClientHandler) GetHistoryByID(c *gin.Context) {
	history, err := h.ledger.HistoryByClientID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if history.TotalVisits == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ClientHandler) GetTodayStats(c *gin.Context) {
	day, err := h.ledger.TodayStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

func (h *ClientHandler) GetMonthStats(c *gin.Context) {
	month := c.Query("month")
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
	}

	ms, err := h.ledger.MonthStats(c.Request.Context(), month)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ms)
}

func (h *ClientHandler) ListMonths(c *gin.Context) {
	months, err := h.ledger.Months(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, months)
}

func (h *ClientHandler) GetAnalytics(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	browse, err := h.ledger.Browse(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, browse)
}

func (h *ClientHandler) ListServices(c *gin.Context) {
	names := models.ServiceNames()
	out := make([]ServiceResponse, 0, len(names))
	for _, name := range names {
		out = append(out, ServiceResponse{Name: name, Price: models.ServicePrices[name]})
	}
	c.JSON(http.StatusOK, out)
}

func (h *ClientHandler) ListDirections(c *gin.Context) {
	c.JSON(http.StatusOK, models.CommercialDirections)
}

func (h *ClientHandler) ListReferrers(c *gin.Context) {
	names, err := h.ledger.ReferrerCandidates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

// Search runs a full-text query against the visit index kept by the consumer.
func (h *ClientHandler) Search(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     q,
				"fields":    []string{"client_name", "phone", "service", "referred_by", "study_place"},
				"fuzziness": "AUTO",
			},
		},
		"size": 50,
	}

	hits, err := h.search.Search(c.Request.Context(), h.index, query)
	if err != nil {
		respondError(c, err)
		return
	}

	visits := make([]models.Visit, 0, len(hits))
	for _, hit := range hits {
		var v models.Visit
		if err := json.Unmarshal(hit, &v); err != nil {
			log.Printf("Skipping undecodable search hit: %v", err)
			continue
		}
		visits = append(visits, v)
	}
	c.JSON(http.StatusOK, visits)
}

// GetMirroredVisits reads a client's visits from the relational mirror.
func (h *ClientHandler) GetMirroredVisits(c *gin.Context) {
	if h.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database mirror is not configured"})
		return
	}

	visits, err := h.mirror.ListClientVisits(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if len(visits) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}
	c.JSON(http.StatusOK, visits)
}

// GetMirroredVisit reads one visit from the Redis cache kept by the consumer,
// falling back to the relational mirror.
func (h *ClientHandler) GetMirroredVisit(c *gin.Context) {
	if h.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database mirror is not configured"})
		return
	}

	id := c.Param("id")
	cacheKey := models.VisitCacheKey(id)
	if h.cache != nil {
		if cached, err := h.cache.GetFromCache(c.Request.Context(), cacheKey); err == nil {
			var visit models.Visit
			if err := json.Unmarshal([]byte(cached), &visit); err == nil {
				c.Header("X-Cache", "HIT")
				c.JSON(http.StatusOK, visit)
				return
			}
		} else if !errors.Is(err, utils.ErrCacheMiss) {
			log.Printf("Visit cache read failed: %v", err)
		}
	}

	visit, err := h.mirror.GetVisitByID(id)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.cache != nil {
		if data, err := json.Marshal(visit); err == nil {
			if err := h.cache.SetToCache(c.Request.Context(), cacheKey, string(data), 24*time.Hour); err != nil {
				log.Printf("Visit cache write failed: %v", err)
			}
		}
	}
	c.Header("X-Cache", "MISS")
	c.JSON(http.StatusOK, visit)
}

// Вспомогательные методы

func bindFilter(c *gin.Context) (stats.Filter, bool) {
	var filter stats.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return filter, false
	}
	return filter, true
}

// respondError maps the error taxonomy to a status code. Unexpected errors
// are attached to the context so ErrorHandler reports them.
func respondError(c *gin.Context, err error) {
	switch {
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrClientNotFound), errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
