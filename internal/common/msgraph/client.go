// internal/common/msgraph/client.go
package msgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"memberflow/internal/common/config"
	"memberflow/internal/models"
)

// Client talks to the Microsoft Graph REST API. The zero automatic-retry
// policy is intentional: provisioning steps record their own failure and the
// pipeline continues per the step table.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Graph client authenticating with the client-credentials
// grant against the tenant's token endpoint.
func NewClient(cfg config.AzureConfig, timeout time.Duration) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	httpClient := cc.Client(context.Background())
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.GraphBaseURL, "/"),
		httpClient: httpClient,
	}
}

// NewClientWithHTTP builds a Graph client on an explicit HTTP client. Used by
// tests to point at a fake Graph server without token acquisition.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Invitation is the subset of the Graph invitation resource the pipeline
// records.
type Invitation struct {
	ID                      string `json:"id"`
	InviteRedeemURL         string `json:"inviteRedeemUrl"`
	InvitedUserEmailAddress string `json:"invitedUserEmailAddress"`
	Status                  string `json:"status"`
}

type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Site struct {
	ID     string `json:"id"`
	WebURL string `json:"webUrl"`
}

type List struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// InviteGuest sends an Entra ID guest invitation.
func (c *Client) InviteGuest(ctx context.Context, user models.UserInfo, redirectURL string) (*Invitation, error) {
	payload := map[string]interface{}{
		"invitedUserEmailAddress": user.Email,
		"invitedUserDisplayName":  user.DisplayName,
		"inviteRedirectUrl":       redirectURL,
		"sendInvitationMessage":   true,
		"invitedUserMessageInfo": map[string]interface{}{
			"customizedMessageBody": fmt.Sprintf("Welcome %s! You've been invited to access our platform.", user.DisplayName),
		},
	}

	var invitation Invitation
	if err := c.postJSON(ctx, "/invitations", payload, &invitation); err != nil {
		return nil, err
	}
	return &invitation, nil
}

// CreateTeam creates a standard team owned by ownerEmail and returns the team
// id. Graph answers 202 with the new team referenced only in the
// Content-Location header.
func (c *Client) CreateTeam(ctx context.Context, displayName, description, ownerEmail string) (string, error) {
	payload := map[string]interface{}{
		"template@odata.bind": "https://graph.microsoft.com/v1.0/teamsTemplates('standard')",
		"displayName":         displayName,
		"description":         description,
		"members": []map[string]interface{}{
			{
				"@odata.type":     "#microsoft.graph.aadUserConversationMember",
				"roles":           []string{"owner"},
				"user@odata.bind": fmt.Sprintf("https://graph.microsoft.com/v1.0/users('%s')", ownerEmail),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal team payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/teams", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("team creation failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	teamID := parseTeamID(resp.Header.Get("Content-Location"))
	if teamID == "" {
		return "", fmt.Errorf("failed to extract team id from Content-Location %q", resp.Header.Get("Content-Location"))
	}
	return teamID, nil
}

// parseTeamID extracts the id from a header like /teams('<id>').
func parseTeamID(location string) string {
	start := strings.Index(location, "'")
	if start < 0 {
		return ""
	}
	end := strings.Index(location[start+1:], "'")
	if end < 0 {
		return ""
	}
	return location[start+1 : start+1+end]
}

// CreatePrivateChannel creates the private workspace channel on a team.
func (c *Client) CreatePrivateChannel(ctx context.Context, teamID, ownerEmail string) (*Channel, error) {
	payload := map[string]interface{}{
		"displayName":    "Private Workspace",
		"description":    "Private channel for confidential discussions",
		"membershipType": "private",
		"members": []map[string]interface{}{
			{
				"@odata.type":     "#microsoft.graph.aadUserConversationMember",
				"roles":           []string{"owner"},
				"user@odata.bind": fmt.Sprintf("https://graph.microsoft.com/v1.0/users('%s')", ownerEmail),
			},
		},
	}

	var channel Channel
	if err := c.postJSON(ctx, fmt.Sprintf("/teams/%s/channels", teamID), payload, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetTeamSite fetches the SharePoint site Graph provisions alongside a team.
func (c *Client) GetTeamSite(ctx context.Context, teamID string) (*Site, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/groups/%s/sites/root", c.baseURL, teamID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("site lookup failed (status %d): %s", resp.StatusCode, string(body))
	}

	var site Site
	if err := json.NewDecoder(resp.Body).Decode(&site); err != nil {
		return nil, fmt.Errorf("failed to decode site response: %w", err)
	}
	return &site, nil
}

// CreateMemberResourcesList creates the member-resources generic list on a
// site.
func (c *Client) CreateMemberResourcesList(ctx context.Context, siteID string) (*List, error) {
	payload := map[string]interface{}{
		"displayName": "Member Resources",
		"columns": []map[string]interface{}{
			{"name": "ResourceName", "text": map[string]interface{}{}},
			{"name": "ResourceType", "choice": map[string]interface{}{
				"choices": []string{"Document", "Link", "Video", "Other"},
			}},
			{"name": "Description", "text": map[string]interface{}{
				"allowMultipleLines": true,
			}},
		},
		"list": map[string]interface{}{
			"template": "genericList",
		},
	}

	var list List
	if err := c.postJSON(ctx, fmt.Sprintf("/sites/%s/lists", siteID), payload, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// TeamWebURL builds the deep link for a created team.
func TeamWebURL(teamID string) string {
	return "https://teams.microsoft.com/l/team/" + teamID
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph call %s failed (status %d): %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
