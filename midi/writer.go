// Package midi renders a compiled event timeline into a Standard MIDI
// File (SMF Format 1): one meta track carrying tempo and time-signature
// changes, plus one note track per polyphonic voice the layout pass
// discovers it needs.
package midi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RikaKagurasaka/symi/compiler"
	"github.com/RikaKagurasaka/symi/rational"
)

// WriterConfig tunes the export: how far a pitch bend range reaches, the
// tick resolution, and the tolerances used to merge near-simultaneous
// notes and elide sub-tolerance overlaps.
type WriterConfig struct {
	PitchBendRangeSemitones uint16
	TicksPerQuarter         uint32
	TimeToleranceSeconds    float64
	PitchToleranceCents     float64
}

// DefaultWriterConfig matches the reference exporter's defaults: a
// standard 2-semitone bend range, 480 ticks per quarter note.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		PitchBendRangeSemitones: 2,
		TicksPerQuarter:         480,
		TimeToleranceSeconds:    1e-4,
		PitchToleranceCents:     3.0,
	}
}

const (
	pitchBendCenter    = 8192
	pitchBendMinSigned = -8192
	pitchBendMaxSigned = 8191
)

type tempoPoint struct {
	second    float64
	mpq       uint32
	startTick uint64
}

type rawTempoPoint struct {
	second float64
	mpq    uint32
}

type metaPoint struct {
	second      float64
	numerator   uint8
	denominator uint8
}

type noteSpec struct {
	startSecond float64
	endSecond   float64
	midiKey     uint8
	bend14      uint16
	bendCents   float64
}

type noteGroup struct {
	startSecond float64
	endSecond   float64
	bend14      uint16
	bendCents   float64
	notes       []noteSpec
}

type trackLayout struct {
	groups []noteGroup
}

// absEvent is a MIDI event (everything after its delta-time) anchored to
// an absolute tick, plus a same-tick ordering priority used to keep, e.g.,
// a pitch bend ahead of the note-on it colors.
type absEvent struct {
	tick     uint64
	priority uint8
	data     []byte
}

// Export renders events into a complete SMF Format 1 byte buffer.
func Export(events []compiler.CompileEvent, cfg WriterConfig) ([]byte, error) {
	tpq, err := normalizeTPQ(cfg.TicksPerQuarter)
	if err != nil {
		return nil, err
	}

	rawTempos, timeSignatures, err := collectTempoAndSignature(events)
	if err != nil {
		return nil, err
	}
	tempoPoints := buildTempoPoints(rawTempos, tpq)

	noteSpecs, err := collectNoteSpecs(events, cfg.PitchBendRangeSemitones)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(noteSpecs, func(i, j int) bool {
		if noteSpecs[i].startSecond != noteSpecs[j].startSecond {
			return noteSpecs[i].startSecond < noteSpecs[j].startSecond
		}
		return noteSpecs[i].midiKey < noteSpecs[j].midiKey
	})

	groups := buildSameStartGroups(noteSpecs, cfg.PitchToleranceCents)
	layouts := assignGroupsToTracks(groups, cfg.TimeToleranceSeconds)

	if len(layouts) > 16 {
		return nil, fmt.Errorf("too many note tracks (%d) for MIDI channels", len(layouts))
	}

	var buf bytes.Buffer
	writeHeaderChunk(&buf, uint16(len(layouts)+1), tpq)

	writeTrackChunk(&buf, toDeltaTrack(buildMetaTrack(tempoPoints, timeSignatures, tpq)))
	for channel, layout := range layouts {
		writeTrackChunk(&buf, toDeltaTrack(buildNoteTrack(layout, uint8(channel), cfg.PitchBendRangeSemitones, tempoPoints, tpq)))
	}

	return buf.Bytes(), nil
}

func normalizeTPQ(tpq uint32) (uint16, error) {
	if tpq == 0 {
		return 0, errors.New("ticks_per_quarter must be > 0")
	}
	if tpq > 0x7FFF {
		return 0, errors.New("ticks_per_quarter exceeds MIDI metrical range (32767)")
	}
	return uint16(tpq), nil
}

func collectTempoAndSignature(events []compiler.CompileEvent) ([]rawTempoPoint, []metaPoint, error) {
	sorted := append([]compiler.CompileEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Seconds < sorted[j].StartTime.Seconds
	})

	beatDuration := rational.New(1, 4)
	bpm := 120.0

	initMpq, err := bpmBeatToMpq(bpm, beatDuration)
	if err != nil {
		return nil, nil, err
	}
	type secMpq struct {
		sec float64
		mpq uint32
	}
	rawTempos := []secMpq{{0.0, initMpq}}
	var timeSigs []metaPoint

	for _, event := range sorted {
		if dur, ok := event.Body.AsBeatDurationDef(); ok {
			beatDuration = dur
			mpq, err := bpmBeatToMpq(bpm, beatDuration)
			if err != nil {
				return nil, nil, err
			}
			rawTempos = append(rawTempos, secMpq{event.StartTime.Seconds, mpq})
		} else if next, ok := event.Body.AsBPMDef(); ok {
			bpm = float64(next)
			mpq, err := bpmBeatToMpq(bpm, beatDuration)
			if err != nil {
				return nil, nil, err
			}
			rawTempos = append(rawTempos, secMpq{event.StartTime.Seconds, mpq})
		} else if ts, ok := event.Body.AsTimeSignatureDef(); ok {
			numerator := ts.Numer
			denominator := ts.Denom
			if numerator <= 0 || denominator <= 0 {
				return nil, nil, fmt.Errorf("invalid time signature: %d/%d", numerator, denominator)
			}
			if denominator&(denominator-1) != 0 {
				return nil, nil, fmt.Errorf("time signature denominator %d is not a power of 2", denominator)
			}
			if numerator > 255 || denominator > 255 {
				return nil, nil, fmt.Errorf("time signature out of MIDI range: %d/%d", numerator, denominator)
			}
			timeSigs = append(timeSigs, metaPoint{
				second:      event.StartTime.Seconds,
				numerator:   uint8(numerator),
				denominator: uint8(denominator),
			})
		}
	}

	sort.SliceStable(rawTempos, func(i, j int) bool { return rawTempos[i].sec < rawTempos[j].sec })
	var dedup []secMpq
	for _, p := range rawTempos {
		if len(dedup) > 0 && math.Abs(dedup[len(dedup)-1].sec-p.sec) < 1e-9 {
			dedup[len(dedup)-1].mpq = p.mpq
			continue
		}
		dedup = append(dedup, p)
	}
	if len(dedup) == 0 || dedup[0].sec > 0.0 {
		defMpq, err := bpmBeatToMpq(120.0, rational.New(1, 4))
		if err != nil {
			return nil, nil, err
		}
		dedup = append([]secMpq{{0.0, defMpq}}, dedup...)
	}

	tempoPoints := make([]rawTempoPoint, len(dedup))
	for i, p := range dedup {
		tempoPoints[i] = rawTempoPoint{second: p.sec, mpq: p.mpq}
	}
	return tempoPoints, timeSigs, nil
}

func buildTempoPoints(raw []rawTempoPoint, tpq uint16) []tempoPoint {
	out := make([]tempoPoint, len(raw))
	var accumTick uint64
	for idx, point := range raw {
		if idx > 0 {
			prev := raw[idx-1]
			dt := point.second - prev.second
			if dt < 0 {
				dt = 0
			}
			accumTick += secondsToTicksWithMPQ(dt, prev.mpq, tpq)
		}
		out[idx] = tempoPoint{second: point.second, mpq: point.mpq, startTick: accumTick}
	}
	return out
}

func bpmBeatToMpq(bpm float64, beatDuration rational.Rational32) (uint32, error) {
	if bpm <= 0.0 {
		return 0, errors.New("BPM must be > 0")
	}
	beatFullNote := beatDuration.Float64()
	if beatFullNote <= 0.0 {
		return 0, errors.New("BeatDurationDef must be > 0")
	}
	quarterBpm := bpm * (beatFullNote / 0.25)
	if quarterBpm <= 0.0 {
		return 0, errors.New("derived quarter BPM must be > 0")
	}
	mpqF := 60_000_000.0 / quarterBpm
	mpq := math.Round(mpqF)
	if mpq < 1.0 {
		mpq = 1.0
	}
	if mpq > 16_777_215.0 {
		mpq = 16_777_215.0
	}
	return uint32(mpq), nil
}

func collectNoteSpecs(events []compiler.CompileEvent, bendRange uint16) ([]noteSpec, error) {
	var notes []noteSpec
	for _, event := range events {
		note, ok := event.Body.AsNote()
		if !ok || note.IsRest() {
			continue
		}
		spec, err := noteToSpec(event.StartTime.Seconds, note, bendRange)
		if err != nil {
			return nil, err
		}
		if spec.endSecond > spec.startSecond {
			notes = append(notes, spec)
		}
	}
	return notes, nil
}

func noteToSpec(startSecond float64, note compiler.Note, bendRange uint16) (noteSpec, error) {
	if note.Freq <= 0.0 {
		return noteSpec{}, errors.New("note frequency must be > 0 for MIDI export")
	}
	if note.DurationSeconds <= 0.0 {
		return noteSpec{}, errors.New("note duration_seconds must be > 0 for MIDI export")
	}
	key, bend14, bendCents, err := freqToKeyAndBend(float64(note.Freq), bendRange)
	if err != nil {
		return noteSpec{}, err
	}
	return noteSpec{
		startSecond: startSecond,
		endSecond:   startSecond + note.DurationSeconds,
		midiKey:     key,
		bend14:      bend14,
		bendCents:   bendCents,
	}, nil
}

func freqToKeyAndBend(freq float64, bendRange uint16) (uint8, uint16, float64, error) {
	if bendRange == 0 {
		return 0, 0, 0, errors.New("pitch_bend_range_semitones must be > 0")
	}
	exact := 69.0 + 12.0*math.Log2(freq/440.0)
	keyF := math.Round(exact)
	if keyF < 0 {
		keyF = 0
	}
	if keyF > 127 {
		keyF = 127
	}
	key := uint8(keyF)
	semitoneDelta := exact - keyF
	bendCents := semitoneDelta * 100.0
	ratio := semitoneDelta / float64(bendRange)
	bendSigned := int32(math.Round(ratio * pitchBendCenter))
	return key, signedToBend14(bendSigned), bendCents, nil
}

func bend14ToSigned(bend14 uint16) int32 {
	v := int32(bend14)
	if v < 0 {
		v = 0
	}
	if v > 16383 {
		v = 16383
	}
	return v - pitchBendCenter
}

func signedToBend14(bendSigned int32) uint16 {
	if bendSigned < pitchBendMinSigned {
		bendSigned = pitchBendMinSigned
	}
	if bendSigned > pitchBendMaxSigned {
		bendSigned = pitchBendMaxSigned
	}
	return uint16(bendSigned + pitchBendCenter)
}

func buildSameStartGroups(notes []noteSpec, pitchToleranceCents float64) []noteGroup {
	sorted := append([]noteSpec(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].startSecond != sorted[j].startSecond {
			return sorted[i].startSecond < sorted[j].startSecond
		}
		return sorted[i].bendCents < sorted[j].bendCents
	})

	var groups []noteGroup
	for _, note := range sorted {
		matched := -1
		for i := range groups {
			g := &groups[i]
			if math.Abs(g.startSecond-note.startSecond) < 1e-9 && math.Abs(g.bendCents-note.bendCents) <= pitchToleranceCents {
				matched = i
				break
			}
		}
		if matched >= 0 {
			g := &groups[matched]
			g.notes = append(g.notes, note)
			if note.endSecond > g.endSecond {
				g.endSecond = note.endSecond
			}
			n := float64(len(g.notes))
			g.bendCents = ((g.bendCents * (n - 1.0)) + note.bendCents) / n
			avgSigned := (float64(bend14ToSigned(g.bend14))*(n-1.0) + float64(bend14ToSigned(note.bend14))) / n
			g.bend14 = signedToBend14(int32(math.Round(avgSigned)))
			continue
		}
		groups = append(groups, noteGroup{
			startSecond: note.startSecond,
			endSecond:   note.endSecond,
			bend14:      note.bend14,
			bendCents:   note.bendCents,
			notes:       []noteSpec{note},
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].startSecond != groups[j].startSecond {
			return groups[i].startSecond < groups[j].startSecond
		}
		return len(groups[i].notes) < len(groups[j].notes)
	})
	return groups
}

func assignGroupsToTracks(groups []noteGroup, toleranceSeconds float64) []trackLayout {
	var tracks []trackLayout

	for _, group := range groups {
		placed := false
		for t := range tracks {
			track := &tracks[t]
			canPlace := false
			if len(track.groups) == 0 {
				canPlace = true
			} else {
				last := &track.groups[len(track.groups)-1]
				if group.startSecond >= last.endSecond {
					canPlace = true
				} else {
					overlap := last.endSecond - group.startSecond
					if overlap > 0.0 && overlap <= toleranceSeconds {
						last.endSecond = group.startSecond
						for i := range last.notes {
							if last.notes[i].endSecond > group.startSecond {
								last.notes[i].endSecond = group.startSecond
							}
						}
						canPlace = true
					}
				}
			}
			if canPlace {
				track.groups = append(track.groups, group)
				placed = true
				break
			}
		}
		if !placed {
			tracks = append(tracks, trackLayout{groups: []noteGroup{group}})
		}
	}

	return tracks
}

func buildMetaTrack(tempoPoints []tempoPoint, timeSignatures []metaPoint, tpq uint16) []absEvent {
	var events []absEvent

	for _, tempo := range tempoPoints {
		tick := secondsToTick(tempo.second, tempoPoints, tpq)
		events = append(events, absEvent{tick: tick, priority: 0, data: metaTempoEvent(tempo.mpq)})
	}

	for _, sig := range timeSignatures {
		tick := secondsToTick(sig.second, tempoPoints, tpq)
		events = append(events, absEvent{tick: tick, priority: 1, data: metaTimeSignatureEvent(sig.numerator, sig.denominator)})
	}

	return events
}

func buildNoteTrack(layout trackLayout, channel uint8, bendRange uint16, tempoPoints []tempoPoint, tpq uint16) []absEvent {
	var events []absEvent

	appendRPNPitchBendSetup(&events, channel, bendRange)

	for _, group := range layout.groups {
		startTick := secondsToTick(group.startSecond, tempoPoints, tpq)
		events = append(events, absEvent{tick: startTick, priority: 1, data: pitchBendEvent(channel, group.bend14)})

		for _, note := range group.notes {
			events = append(events, absEvent{tick: startTick, priority: 2, data: noteOnEvent(channel, note.midiKey, 100)})

			endTick := secondsToTick(note.endSecond, tempoPoints, tpq)
			if endTick <= startTick {
				endTick = startTick + 1
			}
			events = append(events, absEvent{tick: endTick, priority: 0, data: noteOffEvent(channel, note.midiKey)})
		}
	}

	return events
}

func appendRPNPitchBendSetup(events *[]absEvent, channel uint8, bendRange uint16) {
	coarse := bendRange
	if coarse > 127 {
		coarse = 127
	}
	setCC := func(controller, value uint8) absEvent {
		return absEvent{tick: 0, priority: 0, data: controllerEvent(channel, controller, value)}
	}
	*events = append(*events,
		setCC(101, 0),
		setCC(100, 0),
		setCC(6, uint8(coarse)),
		setCC(38, 0),
	)
}

func secondsToTick(second float64, tempoPoints []tempoPoint, tpq uint16) uint64 {
	if len(tempoPoints) == 0 {
		return 0
	}
	idx := 0
	for i, tp := range tempoPoints {
		if tp.second <= second {
			idx = i
		} else {
			break
		}
	}
	base := tempoPoints[idx]
	dt := second - base.second
	if dt < 0 {
		dt = 0
	}
	return base.startTick + secondsToTicksWithMPQ(dt, base.mpq, tpq)
}

func secondsToTicksWithMPQ(second float64, mpq uint32, tpq uint16) uint64 {
	ticks := second * (1_000_000.0 / float64(mpq)) * float64(tpq)
	if !math.IsInf(ticks, 0) && !math.IsNaN(ticks) && ticks > 0.0 {
		return uint64(math.Round(ticks))
	}
	return 0
}

func toDeltaTrack(events []absEvent) []byte {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].priority < events[j].priority
	})

	var buf bytes.Buffer
	var cursor uint64
	for _, event := range events {
		delta := event.tick - cursor
		if delta > 0x0FFFFFFF {
			delta = 0x0FFFFFFF
		}
		buf.Write(encodeVarLen(uint32(delta)))
		buf.Write(event.data)
		cursor = event.tick
	}
	buf.Write(encodeVarLen(0))
	buf.Write(endOfTrackEvent())
	return buf.Bytes()
}

// encodeVarLen encodes a MIDI variable-length quantity (big-endian, 7 bits
// per byte, high bit set on every byte but the last).
func encodeVarLen(v uint32) []byte {
	if v < 0x80 {
		return []byte{byte(v)}
	}
	var stack []byte
	for v > 0 {
		stack = append(stack, byte(v&0x7F))
		v >>= 7
	}
	out := make([]byte, len(stack))
	for i, b := range stack {
		pos := len(stack) - 1 - i
		if pos > 0 {
			b |= 0x80
		}
		out[pos] = b
	}
	return out
}

func noteOnEvent(channel, key, velocity uint8) []byte {
	return []byte{0x90 | (channel & 0x0F), key & 0x7F, velocity & 0x7F}
}

func noteOffEvent(channel, key uint8) []byte {
	return []byte{0x80 | (channel & 0x0F), key & 0x7F, 0}
}

func controllerEvent(channel, controller, value uint8) []byte {
	return []byte{0xB0 | (channel & 0x0F), controller & 0x7F, value & 0x7F}
}

func pitchBendEvent(channel uint8, bend14 uint16) []byte {
	lsb := byte(bend14 & 0x7F)
	msb := byte((bend14 >> 7) & 0x7F)
	return []byte{0xE0 | (channel & 0x0F), lsb, msb}
}

func metaTempoEvent(mpq uint32) []byte {
	return []byte{0xFF, 0x51, 0x03, byte(mpq >> 16), byte(mpq >> 8), byte(mpq)}
}

func metaTimeSignatureEvent(numerator, denominator uint8) []byte {
	denomPow2 := trailingZeros8(denominator)
	return []byte{0xFF, 0x58, 0x04, numerator, denomPow2, 24, 8}
}

func trailingZeros8(v uint8) uint8 {
	var n uint8
	for v&1 == 0 && n < 8 {
		v >>= 1
		n++
	}
	return n
}

func endOfTrackEvent() []byte {
	return []byte{0xFF, 0x2F, 0x00}
}

func writeHeaderChunk(buf *bytes.Buffer, numTracks uint16, tpq uint16) {
	buf.WriteString("MThd")
	binary.Write(buf, binary.BigEndian, uint32(6))
	binary.Write(buf, binary.BigEndian, uint16(1)) // SMF Format 1
	binary.Write(buf, binary.BigEndian, numTracks)
	binary.Write(buf, binary.BigEndian, tpq)
}

func writeTrackChunk(buf *bytes.Buffer, data []byte) {
	buf.WriteString("MTrk")
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}
