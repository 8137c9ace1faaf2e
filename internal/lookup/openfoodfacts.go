// Package lookup resolves barcodes to intake products.
//
// The only thing the ledger ever needs from the Open Food Facts API is
// the (name, quantity, image) tuple; everything else in the response is
// ignored on purpose. Retry policy is the caller's business.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public Open Food Facts API.
const DefaultBaseURL = "https://world.openfoodfacts.org"

var ErrProductNotFound = errors.New("product not found")

// Product is the resolved tuple handed to the intake service.
type Product struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	ImageURL string  `json:"image_url"`
}

// Client queries the Open Food Facts v3 product endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// flexFloat decodes a JSON number or a numeric string; the API serves
// product_quantity both ways depending on the product.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Values like "330 ml" occur in the wild; take the leading number.
		fields := strings.Fields(s)
		if len(fields) > 0 {
			if v2, err2 := strconv.ParseFloat(fields[0], 64); err2 == nil {
				*f = flexFloat(v2)
				return nil
			}
		}
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type productResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName     string    `json:"product_name"`
		ProductQuantity flexFloat `json:"product_quantity"`
		ServingQuantity flexFloat `json:"serving_quantity"`
		ImageURL        string    `json:"image_url"`
	} `json:"product"`
}

// Resolve fetches the product behind a barcode. The serving size falls
// back from product_quantity to serving_quantity, matching how the
// scanner screen always read it.
func (c *Client) Resolve(ctx context.Context, barcode string) (Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Product{}, fmt.Errorf("empty barcode")
	}

	url := fmt.Sprintf("%s/api/v3/product/%s.json", c.baseURL, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Product{}, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("lookup product %s: %w", barcode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Product{}, fmt.Errorf("barcode %s: %w", barcode, ErrProductNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Product{}, fmt.Errorf("lookup product %s: unexpected status %d", barcode, resp.StatusCode)
	}

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Product{}, fmt.Errorf("decode lookup response: %w", err)
	}
	if body.Status == 0 {
		return Product{}, fmt.Errorf("barcode %s: %w", barcode, ErrProductNotFound)
	}

	quantity := float64(body.Product.ProductQuantity)
	if quantity == 0 {
		quantity = float64(body.Product.ServingQuantity)
	}

	return Product{
		Name:     body.Product.ProductName,
		Quantity: quantity,
		ImageURL: body.Product.ImageURL,
	}, nil
}
