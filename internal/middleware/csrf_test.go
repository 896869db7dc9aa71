package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/timelog/internal/model"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func csrfCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods_PassThroughAndSetCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			var called bool
			handler := NewCSRFMiddleware(CSRFConfig{CookieSecure: true})(okHandler(&called))

			req := httptest.NewRequest(method, "/api/time-log-entries", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if !called || w.Code != http.StatusOK {
				t.Errorf("called=%v status=%d", called, w.Code)
			}
			c := csrfCookie(w.Result())
			if c == nil || len(c.Value) != 64 {
				t.Fatalf("csrf cookie = %+v", c)
			}
			if c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
				t.Errorf("unexpected cookie attributes: %+v", c)
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookieIsNotReplaced(t *testing.T) {
	var called bool
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if c := csrfCookie(w.Result()); c != nil {
		t.Errorf("cookie should not be reissued: %+v", c)
	}
}

func TestCSRFMiddleware_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"トークンなし", "", "", http.StatusForbidden},
		{"ヘッダーなし", "token-a", "", http.StatusForbidden},
		{"Cookieなし", "", "token-a", http.StatusForbidden},
		{"不一致", "token-a", "token-b", http.StatusForbidden},
		{"一致", "token-a", "token-a", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				var called bool
				handler := NewCSRFMiddleware(CSRFConfig{})(okHandler(&called))

				req := httptest.NewRequest(method, "/api/time-log-entries/stop", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if called != (tt.wantStatus == http.StatusOK) {
					t.Errorf("handler called = %v", called)
				}
				if tt.wantStatus == http.StatusForbidden {
					if body := decodeErrorBody(t, w); body.Code != model.ErrCodeCSRFInvalid {
						t.Errorf("code = %q", body.Code)
					}
				}
			})
		}
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieDomain: "example.com"})

	t.Run("新規発行", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		c := csrfCookie(w.Result())
		if c == nil || body["token"] == "" || c.Value != body["token"] {
			t.Errorf("cookie %+v and body %v should carry the same token", c, body)
		}
		if c.Domain != "example.com" {
			t.Errorf("domain = %q", c.Domain)
		}
	})

	t.Run("既存トークンを返す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var body map[string]string
		_ = json.NewDecoder(w.Body).Decode(&body)
		if body["token"] != "existing-token" {
			t.Errorf("token = %q", body["token"])
		}
		if csrfCookie(w.Result()) != nil {
			t.Error("cookie should not be reissued")
		}
	})
}
