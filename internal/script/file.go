package script

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/msgflux/internal/message"
	"github.com/stupiduntilnot/msgflux/internal/pipeline"
)

// File is a YAML pipeline definition:
//
//	stages:
//	  - modules:
//	      - {name: planner, script: "set:context.plan=search"}
//	  - parallel: true
//	    modules:
//	      - {name: left, script: "copy:context.plan>outputs.left"}
//	      - {name: right, script: "set:outputs.right=[1, 2]"}
type File struct {
	Stages []StageDef `yaml:"stages"`
}

type StageDef struct {
	Parallel bool        `yaml:"parallel"`
	Modules  []ModuleDef `yaml:"modules"`
}

// ModuleDef declares a scripted module. A definition without a script refers
// to a module already defined earlier in the file or registered by the caller.
type ModuleDef struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
}

func LoadPipelineFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	f, err := ParsePipeline(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func ParsePipeline(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(f.Stages) == 0 {
		return nil, fmt.Errorf("pipeline has no stages")
	}
	for i, st := range f.Stages {
		if len(st.Modules) == 0 {
			return nil, fmt.Errorf("stage %d has no modules", i)
		}
		for j, m := range st.Modules {
			if strings.TrimSpace(m.Name) == "" {
				return nil, fmt.Errorf("stage %d module %d has no name", i, j)
			}
		}
	}
	return &f, nil
}

// Build registers the scripted modules in reg and assembles the pipeline.
func (f *File) Build(reg *pipeline.Registry, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	for _, st := range f.Stages {
		for _, def := range st.Modules {
			if strings.TrimSpace(def.Script) == "" {
				continue
			}
			m, err := New(def.Name, def.Script)
			if err != nil {
				return nil, err
			}
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}

	p := pipeline.New(opts...)
	for i, st := range f.Stages {
		names := make([]string, len(st.Modules))
		for j, def := range st.Modules {
			names[j] = def.Name
		}
		mods, err := reg.Resolve(names...)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		if st.Parallel {
			p.Parallel(mods...)
		} else {
			p.Then(mods...)
		}
	}
	return p, nil
}

// Input is the YAML form of a message to run:
//
//	user_id: u-1
//	chat_id: c-1
//	fields:
//	  content: "What is in the picture?"
//	  images: {user: photo.jpg}
type Input struct {
	UserID string    `yaml:"user_id"`
	ChatID string    `yaml:"chat_id"`
	Fields yaml.Node `yaml:"fields"`
}

// LoadInputFile reads an Input and returns the message options it describes.
// Fields keep their file order.
func LoadInputFile(path string) ([]message.Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	opts, err := ParseInput(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

func ParseInput(data []byte) ([]message.Option, error) {
	var in Input
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	var opts []message.Option
	if in.UserID != "" {
		opts = append(opts, message.WithUserID(in.UserID))
	}
	if in.ChatID != "" {
		opts = append(opts, message.WithChatID(in.ChatID))
	}
	if in.Fields.Kind == 0 {
		return opts, nil
	}
	if in.Fields.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("input fields must be a mapping")
	}
	for i := 0; i+1 < len(in.Fields.Content); i += 2 {
		name := in.Fields.Content[i].Value
		v, err := nodeValue(in.Fields.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("input field %s: %w", name, err)
		}
		opts = append(opts, message.WithField(name, v))
	}
	return opts, nil
}
