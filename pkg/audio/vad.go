package audio

import (
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
)

const (
	TelephonyRate = constants.SAMPLE_RATE
	FrameSamples  = constants.SAMPLES_PER_FRAME
	FrameDuration = 20 * time.Millisecond
)

// VADConfig 语音检测参数
type VADConfig struct {
	SilenceThreshold int16         // 静音阈值
	ValidRatio       float64       // 有效样本比例阈值
	EndOfSpeech      time.Duration // 连续静音多久认为说话结束
	MaxUtterance     time.Duration // 单句最长时长
	MinSpeech        time.Duration // 短于此时长的语音视为噪音
	PreRoll          int           // 开始说话前保留的帧数
}

// DefaultVADConfig 默认参数
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SilenceThreshold: 500,
		ValidRatio:       0.2,
		EndOfSpeech:      time.Second,
		MaxUtterance:     15 * time.Second,
		MinSpeech:        200 * time.Millisecond,
		PreRoll:          5,
	}
}

// Segmenter cuts a stream of 8 kHz frames into utterances by energy.
// It is not safe for concurrent use.
type Segmenter struct {
	cfg      VADConfig
	speaking bool
	buf      []int16
	preroll  [][]int16
	silence  time.Duration
	speech   time.Duration
	total    time.Duration
}

func NewSegmenter(cfg VADConfig) *Segmenter {
	def := DefaultVADConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.ValidRatio <= 0 {
		cfg.ValidRatio = def.ValidRatio
	}
	if cfg.EndOfSpeech <= 0 {
		cfg.EndOfSpeech = def.EndOfSpeech
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	if cfg.PreRoll < 0 {
		cfg.PreRoll = 0
	}
	return &Segmenter{cfg: cfg}
}

// IsVoiced reports whether enough samples of the frame exceed the threshold.
func (s *Segmenter) IsVoiced(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	valid := 0
	for _, v := range frame {
		if v > s.cfg.SilenceThreshold || v < -s.cfg.SilenceThreshold {
			valid++
		}
	}
	return float64(valid)/float64(len(frame)) > s.cfg.ValidRatio
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Push feeds one frame. It returns a finished utterance when end of speech
// or the length limit is reached.
func (s *Segmenter) Push(frame []int16) ([]int16, bool) {
	dur := time.Duration(len(frame)) * time.Second / TelephonyRate
	voiced := s.IsVoiced(frame)

	if !s.speaking {
		if !voiced {
			if s.cfg.PreRoll > 0 {
				s.preroll = append(s.preroll, frame)
				if len(s.preroll) > s.cfg.PreRoll {
					s.preroll = s.preroll[1:]
				}
			}
			return nil, false
		}
		s.speaking = true
		for _, f := range s.preroll {
			s.buf = append(s.buf, f...)
			s.total += time.Duration(len(f)) * time.Second / TelephonyRate
		}
		s.preroll = nil
	}

	s.buf = append(s.buf, frame...)
	s.total += dur
	if voiced {
		s.speech += dur
		s.silence = 0
	} else {
		s.silence += dur
	}

	if s.silence >= s.cfg.EndOfSpeech || s.total >= s.cfg.MaxUtterance {
		return s.finish()
	}
	return nil, false
}

// Flush ends the current utterance, if any.
func (s *Segmenter) Flush() ([]int16, bool) {
	if !s.speaking {
		s.Reset()
		return nil, false
	}
	return s.finish()
}

// Reset drops any buffered audio.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.buf = nil
	s.preroll = nil
	s.silence = 0
	s.speech = 0
	s.total = 0
}

func (s *Segmenter) finish() ([]int16, bool) {
	out, speech := s.buf, s.speech
	s.Reset()
	if speech < s.cfg.MinSpeech {
		return nil, false
	}
	return out, true
}
