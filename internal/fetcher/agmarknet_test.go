package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/model"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestAgmarknetFetchMissingKey(t *testing.T) {
	a := NewAgmarknet(AgmarknetOptions{}, noopLogger())
	if _, err := a.Fetch(context.Background(), "Wheat", 10, 0); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("缺少 api key 时应返回 ErrNotConfigured, 实际 %v", err)
	}
}

func TestAgmarknetFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"slow down"}`))
	}))
	defer srv.Close()

	a := NewAgmarknet(AgmarknetOptions{BaseURL: srv.URL, ResourceID: "res", APIKey: "k", Timeout: time.Second}, noopLogger())
	_, err := a.Fetch(context.Background(), "Wheat", 10, 0)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("HTTP 429 应映射为 ErrRateLimited, 实际 %v", err)
	}
}

func TestAgmarknetFetchEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	a := NewAgmarknet(AgmarknetOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, noopLogger())
	if _, err := a.Fetch(context.Background(), "Wheat", 10, 0); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("空记录应返回 ErrEmptyPayload, 实际 %v", err)
	}
}

func TestAgmarknetFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	a := NewAgmarknet(AgmarknetOptions{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond}, noopLogger())
	if _, err := a.Fetch(context.Background(), "Wheat", 10, 0); err == nil {
		t.Fatal("超时应返回错误")
	}
}

func TestAgmarknetFetchSuccess(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"path":      r.URL.Path,
			"api-key":   q.Get("api-key"),
			"commodity": q.Get("filters[Commodity]"),
			"limit":     q.Get("limit"),
			"offset":    q.Get("offset"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[
			{"State":"Punjab","Market":"Khanna","Commodity":"Wheat","Arrival_Date":"03/06/2025","Min_Price":"2300","Max_Price":"2450","Modal_Price":"2400"},
			{"state":"Haryana","market":"Karnal","commodity":"Wheat","arrival_date":"04/06/2025","min_price":2310,"max_price":2460,"modal_price":2410}
		]}`))
	}))
	defer srv.Close()

	a := NewAgmarknet(AgmarknetOptions{BaseURL: srv.URL, ResourceID: "res-1", APIKey: "secret", Timeout: time.Second}, noopLogger())
	payload, err := a.Fetch(context.Background(), "Wheat", 5000, 0)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gotQuery["path"] != "/res-1" || gotQuery["api-key"] != "secret" || gotQuery["commodity"] != "Wheat" || gotQuery["limit"] != "5000" || gotQuery["offset"] != "0" {
		t.Fatalf("请求参数不正确: %+v", gotQuery)
	}
	if len(payload.Records) != 2 {
		t.Fatalf("期望 2 条记录, 实际 %d", len(payload.Records))
	}
	if payload.Records[1].ModalPrice != "2410" || payload.Records[1].Market != "Karnal" {
		t.Fatalf("小写键与数字值应被解析: %+v", payload.Records[1])
	}
}

func TestNormalizeRecordsDropsBadRows(t *testing.T) {
	records := []Record{
		{Commodity: "Wheat", Market: "Khanna", State: "Punjab", ArrivalDate: "03/06/2025", ModalPrice: "2400", MinPrice: "2300", MaxPrice: "2450"},
		{Commodity: "Wheat", Market: "Khanna", ArrivalDate: "2025-06-04", ModalPrice: "2400"},
		{Commodity: "Wheat", Market: "Khanna", ArrivalDate: "05/06/2025", ModalPrice: "NA"},
		{Commodity: "Wheat", Market: "Khanna", ArrivalDate: "06/06/2025", ModalPrice: "0"},
		{Commodity: "Rice", Market: "Khanna", ArrivalDate: "06/06/2025", ModalPrice: "3000"},
		{Commodity: "Wheat", Market: "", ArrivalDate: "01/06/2025", ModalPrice: "2,380", MinPrice: ""},
	}

	series, dropped := NormalizeRecords("wheat", records)
	if dropped != 4 {
		t.Fatalf("期望丢弃 4 行, 实际 %d", dropped)
	}
	if len(series) != 2 {
		t.Fatalf("期望 2 个有效点, 实际 %d", len(series))
	}
	first := series[0]
	if first.DayKey() != "2025-06-01" || first.Price != 2380 || first.Market != "Unknown" || first.MinPrice != nil {
		t.Fatalf("第一点解析错误: %+v", first)
	}
	second := series[1]
	if second.Source != model.SourceReal || second.Crop != "wheat" || *second.MinPrice != 2300 || *second.MaxPrice != 2450 {
		t.Fatalf("第二点解析错误: %+v", second)
	}
}

func TestCommodityName(t *testing.T) {
	cases := map[string]string{"wheat": "Wheat", " Soyabean": "Soyabean", "garlic": "Garlic", "": ""}
	for in, want := range cases {
		if got := CommodityName(in); got != want {
			t.Fatalf("CommodityName(%q) = %q, 期望 %q", in, got, want)
		}
	}
}
