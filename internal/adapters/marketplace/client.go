package marketplace

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/metrics"
)

const defaultBaseURL = "https://open-api.affiliate.shopee.com.br"

// Client выполняет поисковые запросы к партнёрскому API маркетплейса.
// Подпись запроса строится из учётных данных арендатора; defaultAppID и
// defaultSecret — общие учётные данные для арендаторов без собственных.
type Client struct {
	http          *http.Client
	baseURL       string
	defaultAppID  string
	defaultSecret string
	now           func() time.Time
}

// NewClient создаёт клиента маркетплейса.
func NewClient(baseURL, defaultAppID, defaultSecret string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		defaultAppID:  defaultAppID,
		defaultSecret: defaultSecret,
		now:           time.Now,
	}
}

type searchRequest struct {
	Keyword string `json:"keyword,omitempty"`
	ShopID  string `json:"shop_id,omitempty"`
	Limit   int    `json:"limit"`
}

type searchResponse struct {
	Data struct {
		Offers []offer `json:"offers"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type offer struct {
	ProductName    string  `json:"product_name"`
	ImageURL       string  `json:"image_url"`
	Price          float64 `json:"price"`
	PriceMax       float64 `json:"price_max"`
	CommissionRate float64 `json:"commission_rate"`
	OfferLink      string  `json:"offer_link"`
	ShopName       string  `json:"shop_name"`
}

// Search ищет товары по ключевому слову или магазину от имени арендатора.
func (c *Client) Search(ctx context.Context, tenant domain.Tenant, kind domain.TermKind, raw string) ([]domain.RawOffer, error) {
	appID, secret := c.credentials(tenant)
	if appID == "" || secret == "" {
		return nil, fmt.Errorf("marketplace: у арендатора %s нет учётных данных", tenant.ID)
	}

	req := searchRequest{Limit: 50}
	if kind == domain.TermStore {
		req.ShopID = raw
	} else {
		req.Keyword = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/offer/search"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("marketplace: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader(appID, secret, body))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("marketplace", "offer_search", string(kind), start, err)
		return nil, fmt.Errorf("marketplace: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("marketplace", "offer_search", string(kind), start, err)
		return nil, fmt.Errorf("marketplace: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiResp searchResponse
		if jsonErr := json.Unmarshal(respBody, &apiResp); jsonErr == nil && apiResp.Error.Message != "" {
			err = fmt.Errorf("marketplace: %s", apiResp.Error.Message)
		} else {
			err = fmt.Errorf("marketplace: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("marketplace", "offer_search", string(kind), start, err)
		return nil, err
	}

	var apiResp searchResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		metrics.ObserveNetworkRequest("marketplace", "offer_search", string(kind), start, err)
		return nil, fmt.Errorf("marketplace: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("marketplace", "offer_search", string(kind), start, nil)

	offers := make([]domain.RawOffer, 0, len(apiResp.Data.Offers))
	for _, o := range apiResp.Data.Offers {
		offers = append(offers, domain.RawOffer{
			Title:         o.ProductName,
			ImageURL:      o.ImageURL,
			Price:         o.Price,
			OriginalPrice: o.PriceMax,
			CommissionPct: o.CommissionRate,
			Link:          o.OfferLink,
			Store:         o.ShopName,
		})
	}
	return offers, nil
}

// credentials возвращает учётные данные арендатора либо общие по умолчанию.
func (c *Client) credentials(tenant domain.Tenant) (string, string) {
	if tenant.AppID != "" && tenant.AppSecret != "" {
		return tenant.AppID, tenant.AppSecret
	}
	return c.defaultAppID, c.defaultSecret
}

// authHeader строит подпись sha256(appID+timestamp+payload+secret).
func (c *Client) authHeader(appID, secret string, payload []byte) string {
	ts := c.now().Unix()
	base := fmt.Sprintf("%s%d%s%s", appID, ts, payload, secret)
	sum := sha256.Sum256([]byte(base))
	return fmt.Sprintf("SHA256 Credential=%s, Timestamp=%d, Signature=%s", appID, ts, hex.EncodeToString(sum[:]))
}
