package gateway

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"volguard-go/market"
)

const nseArchiveURL = "https://archives.nseindia.com/content/nsccl/fao_participant_oi_%s.csv"

// ParticipantClient downloads and parses the F&O participant-wise
// open-interest file NSE publishes each evening.
type ParticipantClient struct {
	BaseURL    string // format string with one %s date slot; defaults to the NSE archive
	HTTPClient *http.Client
	Log        *zap.Logger

	now func() time.Time
}

// NewParticipantClient builds a client against the NSE archive.
func NewParticipantClient(log *zap.Logger) *ParticipantClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &ParticipantClient{
		BaseURL:    nseArchiveURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Log:        log,
		now:        time.Now,
	}
}

// ParticipantFlow fetches the latest published file and returns per-category
// futures positioning. The file for a session appears after 18:00 IST, so
// before that the previous trading day is used.
func (c *ParticipantClient) ParticipantFlow(ctx context.Context) (map[string]market.ParticipantFlow, string, error) {
	day := c.latestTradingDay()
	endpoint := fmt.Sprintf(c.BaseURL, day.Format("02012006"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("participant oi file: status %d", resp.StatusCode)
	}

	flows, err := ParseParticipantCSV(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return flows, day.Format("02-Jan-2006"), nil
}

// latestTradingDay walks back from now (IST) to the most recent weekday,
// stepping one day earlier before the 18:00 publish time.
func (c *ParticipantClient) latestTradingDay() time.Time {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	candidate := c.now().In(loc)
	if candidate.Hour() < 18 {
		candidate = candidate.AddDate(0, 0, -1)
	}
	for candidate.Weekday() == time.Saturday || candidate.Weekday() == time.Sunday {
		candidate = candidate.AddDate(0, 0, -1)
	}
	return candidate
}

// ParseParticipantCSV extracts futures long/short per participant category.
// The file carries a preamble before the header row naming
// "Future Index Long"; rows after it are keyed by client type.
func ParseParticipantCSV(r io.Reader) (map[string]market.ParticipantFlow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var header []string
	longIdx, shortIdx, typeIdx := -1, -1, -1
	out := make(map[string]market.ParticipantFlow)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if header == nil {
			for i, col := range record {
				switch strings.TrimSpace(col) {
				case "Future Index Long":
					longIdx = i
				case "Future Index Short":
					shortIdx = i
				case "Client Type":
					typeIdx = i
				}
			}
			if longIdx >= 0 && shortIdx >= 0 && typeIdx >= 0 {
				header = record
			}
			continue
		}
		if len(record) <= longIdx || len(record) <= shortIdx {
			continue
		}
		category := matchCategory(strings.TrimSpace(record[typeIdx]))
		if category == "" {
			continue
		}
		long, err1 := strconv.ParseFloat(strings.TrimSpace(record[longIdx]), 64)
		short, err2 := strconv.ParseFloat(strings.TrimSpace(record[shortIdx]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out[category] = market.ParticipantFlow{
			FutLong:  long,
			FutShort: short,
			FutNet:   long - short,
		}
	}
	if header == nil {
		return nil, fmt.Errorf("participant oi file: header row not found")
	}
	return out, nil
}

func matchCategory(clientType string) string {
	lower := strings.ToLower(clientType)
	switch {
	case strings.Contains(lower, "fii"):
		return market.ParticipantFII
	case strings.Contains(lower, "dii"):
		return market.ParticipantDII
	case strings.Contains(lower, "pro"):
		return market.ParticipantPro
	case strings.Contains(lower, "client"):
		return market.ParticipantClient
	}
	return ""
}

var _ Positioning = (*ParticipantClient)(nil)
