package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultWeatherTimeout = 10 * time.Second

type wttrNamedValue struct {
	Value string `json:"value"`
}

type wttrCurrentCondition struct {
	TempC         string           `json:"temp_C"`
	FeelsLikeC    string           `json:"FeelsLikeC"`
	WeatherDesc   []wttrNamedValue `json:"weatherDesc"`
	WindspeedKmph string           `json:"windspeedKmph"`
}

type wttrWeatherDay struct {
	MaxTempC string `json:"maxtempC"`
	MinTempC string `json:"mintempC"`
}

type wttrResponse struct {
	CurrentCondition []wttrCurrentCondition `json:"current_condition"`
	Weather          []wttrWeatherDay       `json:"weather"`
}

// weatherClient fetches current conditions from a wttr.in-compatible
// endpoint.
type weatherClient struct {
	client  *http.Client
	baseURL string
}

func newWeatherClient(baseURL string, timeout time.Duration) *weatherClient {
	if timeout <= 0 {
		timeout = defaultWeatherTimeout
	}
	return &weatherClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (w *weatherClient) endpoint(location string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(w.baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid weather endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid weather endpoint")
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/" + url.PathEscape(strings.TrimSpace(location))
	q := parsed.Query()
	q.Set("format", "j1")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// Current returns a one-line summary of the current conditions plus
// today's range.
func (w *weatherClient) Current(ctx context.Context, location string) (string, error) {
	endpoint, err := w.endpoint(location)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Luna/1.0 (+https://example.invalid)")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("weather request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}

	var payload wttrResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode weather response: %w", err)
	}
	if len(payload.CurrentCondition) == 0 {
		return "", fmt.Errorf("weather response missing current condition")
	}

	current := payload.CurrentCondition[0]
	condition := ""
	if len(current.WeatherDesc) > 0 {
		condition = strings.TrimSpace(current.WeatherDesc[0].Value)
	}

	line := fmt.Sprintf("%s, %s°C (feels like %s°C), wind %s km/h",
		condition,
		strings.TrimSpace(current.TempC),
		strings.TrimSpace(current.FeelsLikeC),
		strings.TrimSpace(current.WindspeedKmph),
	)
	if len(payload.Weather) > 0 {
		today := payload.Weather[0]
		line += fmt.Sprintf(", today %s°C to %s°C",
			strings.TrimSpace(today.MinTempC),
			strings.TrimSpace(today.MaxTempC),
		)
	}
	return line, nil
}
