package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.ngs.io/ph-pollution/internal/adapter/transport"
	"go.ngs.io/ph-pollution/internal/domain"
)

// DefaultCMRURL is the NASA Common Metadata Repository search endpoint root.
const DefaultCMRURL = "https://cmr.earthdata.nasa.gov"

const searchAfterHeader = "CMR-Search-After"

// CMR searches NASA's Common Metadata Repository.
type CMR struct {
	BaseURL  string
	Client   *transport.Client
	PageSize int

	// BoundingBox, when set, restricts results to granules intersecting it.
	BoundingBox *domain.Region
}

// NewCMR creates a CMR catalog client.
func NewCMR(baseURL string, client *transport.Client) *CMR {
	if baseURL == "" {
		baseURL = DefaultCMRURL
	}
	return &CMR{BaseURL: strings.TrimRight(baseURL, "/"), Client: client, PageSize: 200}
}

type cmrResponse struct {
	Hits  int `json:"hits"`
	Items []struct {
		Meta struct {
			ConceptID string `json:"concept-id"`
			NativeID  string `json:"native-id"`
		} `json:"meta"`
		UMM struct {
			GranuleUR   string `json:"GranuleUR"`
			RelatedUrls []struct {
				URL  string `json:"URL"`
				Type string `json:"Type"`
			} `json:"RelatedUrls"`
			TemporalExtent struct {
				RangeDateTime struct {
					BeginningDateTime string `json:"BeginningDateTime"`
				} `json:"RangeDateTime"`
			} `json:"TemporalExtent"`
		} `json:"umm"`
	} `json:"items"`
}

// Search pages through granules.umm_json results for shortName.
func (c *CMR) Search(ctx context.Context, shortName string, tr domain.TimeRange) ([]Granule, error) {
	params := url.Values{}
	params.Set("short_name", shortName)
	params.Set("temporal", fmt.Sprintf("%s,%s",
		tr.Start.Format(time.RFC3339),
		tr.End.AddDate(0, 0, 1).Add(-time.Second).Format(time.RFC3339)))
	params.Set("page_size", strconv.Itoa(c.PageSize))
	params.Set("sort_key", "start_date")
	if bb := c.BoundingBox; bb != nil {
		params.Set("bounding_box", fmt.Sprintf("%g,%g,%g,%g", bb.LonMin, bb.LatMin, bb.LonMax, bb.LatMax))
	}
	reqURL := c.BaseURL + "/search/granules.umm_json?" + params.Encode()

	var granules []Granule
	searchAfter := ""
	for {
		header := http.Header{}
		if searchAfter != "" {
			header.Set(searchAfterHeader, searchAfter)
		}
		var page cmrResponse
		h, err := c.Client.GetJSON(ctx, reqURL, header, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", shortName, err)
		}
		for _, item := range page.Items {
			g := Granule{ID: item.UMM.GranuleUR, Product: shortName}
			if g.ID == "" {
				g.ID = item.Meta.NativeID
			}
			var s3 []string
			for _, u := range item.UMM.RelatedUrls {
				if u.Type != "GET DATA" {
					continue
				}
				if strings.HasPrefix(u.URL, "s3://") {
					s3 = append(s3, u.URL)
					continue
				}
				g.URLs = append(g.URLs, u.URL)
			}
			g.URLs = append(g.URLs, s3...)
			if begin := item.UMM.TemporalExtent.RangeDateTime.BeginningDateTime; begin != "" {
				if t, err := domain.ParseTimeAttr(begin); err == nil {
					g.Start = t
				}
			}
			if len(g.URLs) > 0 {
				granules = append(granules, g)
			}
		}
		searchAfter = h.Get(searchAfterHeader)
		if searchAfter == "" || len(page.Items) < c.PageSize {
			break
		}
	}
	return granules, nil
}
