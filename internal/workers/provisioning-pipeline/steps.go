// internal/workers/provisioning-pipeline/steps.go
package provisioningpipeline

import (
	"context"
	"fmt"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/msgraph"
	"memberflow/internal/models"
)

// Step names, matching the enable flags carried on the envelope.
const (
	StepEntraInvite    = "entraInvite"
	StepTeamsChannel   = "teamsChannel"
	StepSharepointSite = "sharepointSite"
	StepSharepointList = "sharepointList"
)

// stepOrder is the fixed execution sequence. The invite runs first so the
// guest identity exists before resources reference it, but a failed invite
// does not block the team: the member may already hold an organization
// account.
var stepOrder = []string{StepEntraInvite, StepTeamsChannel, StepSharepointSite, StepSharepointList}

// dependsOn maps a step to the earlier step whose success it requires. Steps
// absent from the map always run when enabled.
var dependsOn = map[string]string{
	StepSharepointSite: StepTeamsChannel,
	StepSharepointList: StepSharepointSite,
}

// GraphClient is the Graph surface the steps consume; satisfied by
// msgraph.Client.
type GraphClient interface {
	InviteGuest(ctx context.Context, user models.UserInfo, redirectURL string) (*msgraph.Invitation, error)
	CreateTeam(ctx context.Context, displayName, description, ownerEmail string) (string, error)
	CreatePrivateChannel(ctx context.Context, teamID, ownerEmail string) (*msgraph.Channel, error)
	GetTeamSite(ctx context.Context, teamID string) (*msgraph.Site, error)
	CreateMemberResourcesList(ctx context.Context, siteID string) (*msgraph.List, error)
}

// stepState accumulates identifiers across steps within one invocation.
type stepState struct {
	teamID string
	siteID string
}

type stepRunner struct {
	graph             GraphClient
	inviteRedirectURL string
}

func (r *stepRunner) run(ctx context.Context, name string, envelope *models.ProvisioningEnvelope, state *stepState) models.StepResult {
	var result models.StepResult
	var err error

	switch name {
	case StepEntraInvite:
		result, err = r.inviteGuest(ctx, envelope)
	case StepTeamsChannel:
		result, err = r.createTeam(ctx, envelope, state)
	case StepSharepointSite:
		result, err = r.lookupSite(ctx, state)
	case StepSharepointList:
		result, err = r.createList(ctx, state)
	default:
		err = fmt.Errorf("unknown step %q", name)
	}

	if err != nil {
		return models.StepResult{
			Success: false,
			Error:   errors.NewGraphCallFailedError(name, err).Error(),
		}
	}
	result.Success = true
	return result
}

func (r *stepRunner) inviteGuest(ctx context.Context, envelope *models.ProvisioningEnvelope) (models.StepResult, error) {
	invitation, err := r.graph.InviteGuest(ctx, envelope.User, r.inviteRedirectURL)
	if err != nil {
		return models.StepResult{}, err
	}
	return models.StepResult{
		URLs: map[string]string{"entraInvite": invitation.InviteRedeemURL},
	}, nil
}

func (r *stepRunner) createTeam(ctx context.Context, envelope *models.ProvisioningEnvelope, state *stepState) (models.StepResult, error) {
	displayName := fmt.Sprintf("%s Team", envelope.Organization)
	description := fmt.Sprintf("Collaboration space for %s members", envelope.Organization)

	teamID, err := r.graph.CreateTeam(ctx, displayName, description, envelope.User.Email)
	if err != nil {
		return models.StepResult{}, err
	}
	state.teamID = teamID

	// The private channel rides along with the team step; losing it is not
	// worth failing the whole step over.
	if _, err := r.graph.CreatePrivateChannel(ctx, teamID, envelope.User.Email); err != nil {
		return models.StepResult{
			URLs:  map[string]string{"teamsUrl": msgraph.TeamWebURL(teamID)},
			Error: errors.NewGraphCallFailedError("privateChannel", err).Error(),
		}, nil
	}

	return models.StepResult{
		URLs: map[string]string{"teamsUrl": msgraph.TeamWebURL(teamID)},
	}, nil
}

func (r *stepRunner) lookupSite(ctx context.Context, state *stepState) (models.StepResult, error) {
	site, err := r.graph.GetTeamSite(ctx, state.teamID)
	if err != nil {
		return models.StepResult{}, err
	}
	state.siteID = site.ID
	return models.StepResult{
		URLs: map[string]string{"sharepointUrl": site.WebURL},
	}, nil
}

func (r *stepRunner) createList(ctx context.Context, state *stepState) (models.StepResult, error) {
	list, err := r.graph.CreateMemberResourcesList(ctx, state.siteID)
	if err != nil {
		return models.StepResult{}, err
	}
	return models.StepResult{
		URLs: map[string]string{"sharepointListUrl": list.WebURL},
	}, nil
}
