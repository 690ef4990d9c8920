// Package sheetsapi wraps Google OAuth2 client config and the Sheets API for
// the single purpose of appending tournament result rows. Tokens are persisted
// via the provided TokenStore interface so they can be refreshed and reused by
// the result sweep.
package sheetsapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/onnwee/race-tender/config"
)

const provider = "google"

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, scope string, err error)
}

type Service struct {
	cfg   *config.Config
	db    TokenStore
	oauth *oauth2.Config
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{"https://www.googleapis.com/auth/spreadsheets"}
	if cfg.GoogleScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.GoogleScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, db: ts, oauth: oauth}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	_ = s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(s.oauth.Scopes, " "))
	return tok, nil
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, _, err := s.db.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no google token stored")
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	ts := s.oauth.TokenSource(ctx, tok)
	newTok, err := ts.Token()
	if err != nil {
		return tok, err
	}
	_ = s.db.UpsertOAuthToken(ctx, provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, strings.Join(s.oauth.Scopes, " "))
	return newTok, nil
}

func (s *Service) Client(ctx context.Context) (*sheets.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	client := s.oauth.Client(ctx, tok)
	return sheets.New(client)
}

// AppendRow appends one row of values to the results range of a spreadsheet.
func AppendRow(ctx context.Context, svc *sheets.Service, spreadsheetID, valueRange string, values []interface{}) error {
	if svc == nil {
		return fmt.Errorf("nil sheets service")
	}
	if spreadsheetID == "" {
		return fmt.Errorf("spreadsheet id empty")
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{values}}
	_, err := svc.Spreadsheets.Values.Append(spreadsheetID, valueRange, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets append: %w", err)
	}
	return nil
}
