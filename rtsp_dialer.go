package camprobe

import (
	"context"
	stderrors "errors"
	"net/url"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/liberrors"
	"github.com/juju/errors"
)

// RTSPDialer connects with gortsplib: OPTIONS and DESCRIBE, no SETUP. The
// SDP tells whether the stream carries audio.
type RTSPDialer struct {
	UserAgent string
}

// NewRTSPDialer returns the default Dialer
func NewRTSPDialer(userAgent string) *RTSPDialer {
	return &RTSPDialer{UserAgent: userAgent}
}

// Dial implements Dialer
func (d *RTSPDialer) Dial(ctx context.Context, rtspURL string, auth *Auth) (Link, MediaInfo, error) {
	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return nil, MediaInfo{}, errors.NotValidf("RTSP URL %q", rtspURL)
	}
	if auth != nil {
		u.User = url.UserPassword(auth.Username, auth.Password)
	}

	timeout := DefaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, MediaInfo{}, errors.Trace(context.DeadlineExceeded)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		UserAgent:    d.UserAgent,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, MediaInfo{}, errors.Annotatef(err, "start %s", u.Host)
	}

	stop := context.AfterFunc(ctx, client.Close)
	session, _, err := client.Describe(u)
	if !stop() {
		return nil, MediaInfo{}, errors.Trace(ctx.Err())
	}
	if err != nil {
		client.Close()
		return nil, MediaInfo{}, errors.Annotate(err, "describe")
	}

	return &rtspLink{client: client, u: u}, audioInfo(session), nil
}

func audioInfo(session *description.Session) MediaInfo {
	if session == nil {
		return MediaInfo{}
	}
	for _, media := range session.Medias {
		if media.Type != description.MediaTypeAudio {
			continue
		}
		info := MediaInfo{HasAudio: true}
		if len(media.Formats) > 0 {
			info.AudioCodec = media.Formats[0].Codec()
		}
		return info
	}
	return MediaInfo{}
}

type rtspLink struct {
	client *gortsplib.Client
	u      *base.URL
}

// Ping sends OPTIONS. A 404 still proves the server is alive.
func (l *rtspLink) Ping(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.client.Close)
	res, err := l.client.Options(l.u)
	if !stop() {
		return errors.Trace(ctx.Err())
	}

	// some firmware answers OPTIONS in a state gortsplib considers invalid
	var invalidState liberrors.ErrClientInvalidState
	if err != nil && !stderrors.As(err, &invalidState) {
		return err
	}
	if res != nil && res.StatusCode != base.StatusOK && res.StatusCode != base.StatusNotFound {
		return liberrors.ErrClientBadStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}
	return nil
}

func (l *rtspLink) Close() error {
	l.client.Close()
	return nil
}
