package reservoir

import (
	"errors"
	"regexp"
)

var (
	ErrNoMapContainer = errors.New("no map container in response")
	ErrNoGraphic      = errors.New("no dam graphic in map container")
)

// Extractor locates the dam graphic within a postback response.
type Extractor interface {
	Graphic(payload string) (string, error)
}

// MarkerExtractor finds a container fragment, then the graphic within it.
type MarkerExtractor struct {
	ContainerPattern *regexp.Regexp
	GraphicPattern   *regexp.Regexp
}

var DefaultExtractor = MarkerExtractor{
	ContainerPattern: regexp.MustCompile(`(?s)<div class=.map.>.*?</figure>`),
	GraphicPattern:   regexp.MustCompile(`(?s)<svg[^>]*class=.svgDam.*?</svg>`),
}

func (m MarkerExtractor) Graphic(payload string) (string, error) {
	container := m.ContainerPattern.FindString(payload)
	if container == "" {
		return "", ErrNoMapContainer
	}
	graphic := m.GraphicPattern.FindString(container)
	if graphic == "" {
		return "", ErrNoGraphic
	}
	return graphic, nil
}
