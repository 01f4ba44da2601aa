package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

func startedFixture(t *testing.T, sess domain.Session, role domain.Role) *fixture {
	t.Helper()
	f := newFixture(t, sess, role)
	f.join(t)
	require.NoError(t, f.coord.Start(context.Background()))
	f.remoteJoins(t, "remote", domain.RoleCounterpart, "Pat")
	return f
}

func sentConsentID(t *testing.T, f *fixture) string {
	t.Helper()
	reqs := f.channel.SentOfType(core.EnvelopeConsentRequest)
	require.NotEmpty(t, reqs)
	var p core.ConsentRequestPayload
	require.NoError(t, reqs[len(reqs)-1].DecodePayload(&p))
	return p.ID
}

func TestRecordingRequiresConsent(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)

	require.NoError(t, f.coord.StartRecording())
	assert.False(t, f.coord.Recording(), "recording must wait for the grant")
	id := sentConsentID(t, f)

	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: true})
	assert.True(t, f.coord.Recording())

	statuses := f.channel.SentOfType(core.EnvelopeRecordingStatus)
	require.Len(t, statuses, 1)
	var rp core.RecordingStatusPayload
	require.NoError(t, statuses[0].DecodePayload(&rp))
	assert.True(t, rp.Recording)
	assert.Equal(t, domain.ParticipantID("self"), rp.By)
}

func TestRecordingDenied(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)

	require.NoError(t, f.coord.StartRecording())
	id := sentConsentID(t, f)

	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: false})
	assert.False(t, f.coord.Recording())
	assert.Empty(t, f.channel.SentOfType(core.EnvelopeRecordingStatus))
}

func TestStopRecordingNeedsNoConsent(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)
	require.NoError(t, f.coord.StartRecording())
	id := sentConsentID(t, f)
	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: true})
	require.True(t, f.coord.Recording())

	require.NoError(t, f.coord.StopRecording())
	assert.False(t, f.coord.Recording())
	assert.Len(t, f.channel.SentOfType(core.EnvelopeConsentRequest), 1)
	assert.Len(t, f.channel.SentOfType(core.EnvelopeRecordingStatus), 2)
}

func TestRecordingFeatureDisabled(t *testing.T) {
	sess := testSession()
	sess.RecordingEnabled = false
	f := startedFixture(t, sess, domain.RoleInitiator)

	err := f.coord.StartRecording()
	require.ErrorIs(t, err, ErrFeatureDisabled)
	assert.Empty(t, f.channel.SentOfType(core.EnvelopeConsentRequest))
}

func TestConsentExpiryDeniesOnce(t *testing.T) {
	f := newFixtureTiming(t, testSession(), domain.RoleInitiator, Timing{
		ConsentTTL:      20 * time.Millisecond,
		HeartbeatWindow: 30 * time.Second,
	})
	f.join(t)
	require.NoError(t, f.coord.Start(context.Background()))
	f.remoteJoins(t, "remote", domain.RoleCounterpart, "Pat")

	require.NoError(t, f.coord.StartRecording())
	id := sentConsentID(t, f)

	require.Eventually(t, func() bool {
		return len(f.coord.PendingConsents()) == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, f.coord.Recording())

	// A late grant is rejected with no state change.
	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: true})
	assert.False(t, f.coord.Recording())
	assert.Empty(t, f.channel.SentOfType(core.EnvelopeRecordingStatus))
}

func TestRespondConsent(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleCounterpart)
	req := domain.NewConsentRequest(domain.ConsentRecording, "remote", "record?")
	f.deliver(t, core.EnvelopeConsentRequest, "remote", "", core.ConsentRequestPayload{
		ID: req.ID, Type: req.Type, RequestedBy: req.RequestedBy, Message: req.Message,
	})
	require.Len(t, f.coord.PendingConsents(), 1)

	require.NoError(t, f.coord.RespondConsent(req.ID, true))
	responses := f.channel.SentOfType(core.EnvelopeConsentResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, domain.ParticipantID("remote"), responses[0].TargetID)

	err := f.coord.RespondConsent(req.ID, false)
	require.ErrorIs(t, err, core.ErrStaleConsent)
}

func TestRespondAfterExpiryIsStale(t *testing.T) {
	f := newFixtureTiming(t, testSession(), domain.RoleCounterpart, Timing{
		ConsentTTL:      20 * time.Millisecond,
		HeartbeatWindow: 30 * time.Second,
	})
	f.join(t)
	f.remoteJoins(t, "remote", domain.RoleInitiator, "Dr. Lee")
	req := domain.NewConsentRequest(domain.ConsentRecording, "remote", "record?")
	f.deliver(t, core.EnvelopeConsentRequest, "remote", "", core.ConsentRequestPayload{
		ID: req.ID, Type: req.Type, RequestedBy: req.RequestedBy,
	})

	require.Eventually(t, func() bool {
		return len(f.coord.PendingConsents()) == 0
	}, time.Second, 5*time.Millisecond)

	err := f.coord.RespondConsent(req.ID, true)
	require.ErrorIs(t, err, core.ErrStaleConsent)
}

func TestConsentRequestSendFailureReverts(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)
	f.channel.SetSendErr(core.ErrChannelClosed)

	err := f.coord.StartRecording()
	require.ErrorIs(t, err, core.ErrChannelClosed)
	assert.False(t, f.coord.Recording())
	assert.Empty(t, f.coord.PendingConsents())
}

func TestScreenShareConsentGranted(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)

	require.NoError(t, f.coord.StartScreenShare(context.Background()))
	id := sentConsentID(t, f)
	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: true})

	require.Eventually(t, func() bool {
		return f.source.DisplayCalls() == 1
	}, time.Second, 5*time.Millisecond)

	link := f.factory.link("remote")
	require.Eventually(t, func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return len(link.replaced) == 1
	}, time.Second, 5*time.Millisecond)
	link.mu.Lock()
	assert.Equal(t, core.TrackScreen, link.replaced[0].Kind())
	link.mu.Unlock()
}

func TestScreenShareDeniedReverts(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)

	require.NoError(t, f.coord.StartScreenShare(context.Background()))
	id := sentConsentID(t, f)
	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: false})

	assert.Equal(t, 0, f.source.DisplayCalls())
	events := f.drainEvents()
	var lastShare *Event
	for i := range events {
		if events[i].Kind == EventScreenShare {
			lastShare = &events[i]
		}
	}
	require.NotNil(t, lastShare)
	assert.False(t, lastShare.Active)
}

func TestScreenShareRenegotiationFallback(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)
	link := f.factory.link("remote")
	link.mu.Lock()
	link.replaceErr = core.ErrRenegotiationRequired
	link.mu.Unlock()

	require.NoError(t, f.coord.StartScreenShare(context.Background()))
	id := sentConsentID(t, f)
	offersBefore := len(f.channel.SentOfType(core.EnvelopeOffer))
	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: true})

	require.Eventually(t, func() bool {
		return len(f.channel.SentOfType(core.EnvelopeOffer)) == offersBefore+1
	}, time.Second, 5*time.Millisecond)
}

func TestScreenShareFeatureDisabled(t *testing.T) {
	sess := testSession()
	sess.ScreenSharingEnabled = false
	f := startedFixture(t, sess, domain.RoleInitiator)

	err := f.coord.StartScreenShare(context.Background())
	require.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestScreenShareBeforeStartRejected(t *testing.T) {
	f := newFixture(t, testSession(), domain.RoleInitiator)
	f.join(t)

	err := f.coord.StartScreenShare(context.Background())
	require.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestStopScreenShareRestoresCamera(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)
	require.NoError(t, f.coord.StartScreenShare(context.Background()))
	id := sentConsentID(t, f)
	f.deliver(t, core.EnvelopeConsentResponse, "remote", "self", core.ConsentResponsePayload{ID: id, Granted: true})
	link := f.factory.link("remote")
	require.Eventually(t, func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return len(link.replaced) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.coord.StopScreenShare())
	link.mu.Lock()
	defer link.mu.Unlock()
	require.Len(t, link.replaced, 2)
	assert.Equal(t, core.TrackVideo, link.replaced[1].Kind())
}

func TestMuteRebroadcastsFlags(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleInitiator)
	before := len(f.channel.SentOfType(core.EnvelopeParticipantJoined))

	require.NoError(t, f.coord.SetAudioEnabled(false))
	require.NoError(t, f.coord.SetVideoEnabled(false))

	anns := f.channel.SentOfType(core.EnvelopeParticipantJoined)
	require.Len(t, anns, before+2)
	var p core.JoinedPayload
	require.NoError(t, anns[len(anns)-1].DecodePayload(&p))
	assert.False(t, p.AudioEnabled)
	assert.False(t, p.VideoEnabled)
}

func TestRemoteRecordingStatusTracked(t *testing.T) {
	f := startedFixture(t, testSession(), domain.RoleCounterpart)

	f.deliver(t, core.EnvelopeRecordingStatus, "remote", "", core.RecordingStatusPayload{Recording: true, By: "remote"})
	assert.True(t, f.coord.Recording())

	f.deliver(t, core.EnvelopeRecordingStatus, "remote", "", core.RecordingStatusPayload{Recording: false, By: "remote"})
	assert.False(t, f.coord.Recording())
}
