package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Replies holds the prompts and fixed user-facing messages. {message} and
// {subject} are substituted once.
type Replies struct {
	TextPrompt   string `yaml:"text_prompt"`
	TextApology  string `yaml:"text_apology"`
	UploadFailed string `yaml:"upload_failed"`
	ImagePrompt  string `yaml:"image_prompt"`
	ImageAnswer  string `yaml:"image_answer"`
	ImageApology string `yaml:"image_apology"`
}

func DefaultReplies() Replies {
	return Replies{
		TextPrompt:   `คุณคือ AI ผู้ช่วยที่เป็นมิตรและมีไหวพริบ จงตอบกลับข้อความนี้ตรงๆ: "{message}"`,
		TextApology:  "ขออภัย, ตอนนี้ AI กำลังประมวลผลผิดพลาดเล็กน้อย ลองอีกครั้งนะ",
		UploadFailed: "อัปโหลดรูปไป Supabase ไม่สำเร็จ",
		ImagePrompt:  "ภาพนี้คือสัตว์อะไร? ช่วยบอกชื่อของสัตว์นี้เป็นภาษาไทยให้ชัดเจน",
		ImageAnswer:  "สัตว์ในภาพคือ: {subject}",
		ImageApology: "ขออภัย, ไม่สามารถวิเคราะห์ภาพได้ในขณะนี้",
	}
}

// LoadReplies reads a YAML catalog. Keys missing from the file keep their defaults.
func LoadReplies(path string) (Replies, error) {
	r := DefaultReplies()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read replies %s: %w", path, err)
	}
	var override Replies
	if err := yaml.Unmarshal(data, &override); err != nil {
		return r, fmt.Errorf("parse replies %s: %w", path, err)
	}
	r.merge(override)
	return r, nil
}

func (r *Replies) merge(o Replies) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.TextPrompt, o.TextPrompt)
	set(&r.TextApology, o.TextApology)
	set(&r.UploadFailed, o.UploadFailed)
	set(&r.ImagePrompt, o.ImagePrompt)
	set(&r.ImageAnswer, o.ImageAnswer)
	set(&r.ImageApology, o.ImageApology)
}

func (r Replies) textPrompt(message string) string {
	return strings.Replace(r.TextPrompt, "{message}", message, 1)
}

func (r Replies) imageAnswer(subject string) string {
	return strings.Replace(r.ImageAnswer, "{subject}", subject, 1)
}
