package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveKeepAlive(t *testing.T) {
	ObserveKeepAlive("scraper", true, 250*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(keepAliveUp.WithLabelValues("scraper")))
	assert.InDelta(t, 0.25, testutil.ToFloat64(keepAliveLatency.WithLabelValues("scraper")), 1e-9)

	ObserveKeepAlive("scraper", false, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(keepAliveUp.WithLabelValues("scraper")))
}

func TestNewsCounters(t *testing.T) {
	before := testutil.ToFloat64(newsArticlesScraped.WithLabelValues("tech"))
	AddScrapedArticles("tech", 7)
	assert.Equal(t, before+7, testutil.ToFloat64(newsArticlesScraped.WithLabelValues("tech")))

	IncSourceError("Reddit")
	assert.GreaterOrEqual(t, testutil.ToFloat64(newsSourceErrors.WithLabelValues("Reddit")), 1.0)
}
