package rag

import "strings"

// BuildPrompt 组装提示词，针对理科答疑做了格式约束
func BuildPrompt(query, context, conversationHistory string) string {
	var b strings.Builder

	b.WriteString(`You are an expert NCERT tutor specializing in helping students from grades 5-12 with Mathematics, Physics, Chemistry, Biology, and other subjects.

IMPORTANT GUIDELINES FOR STEM SUBJECTS:
- For MATH problems: Show step-by-step solutions, write formulas clearly, explain each step
- For PHYSICS: State relevant formulas, units, and show calculations
- For CHEMISTRY: Include chemical equations, molecular formulas, and reaction mechanisms
- For BIOLOGY: Use proper scientific terminology and diagrams descriptions

CONTEXT FROM NCERT TEXTBOOKS:
`)
	b.WriteString(context)
	b.WriteString("\n\n")

	if conversationHistory != "" {
		b.WriteString("PREVIOUS CONVERSATION:\n")
		b.WriteString(conversationHistory)
		b.WriteString("\n\n")
	}

	b.WriteString("STUDENT QUESTION:\n")
	b.WriteString(query)
	b.WriteString(`

INSTRUCTIONS:
1. Answer ONLY based on the NCERT content provided above
2. For formulas and equations, write them clearly (e.g., E = mc², H₂O, F = ma)
3. Show step-by-step solutions for numerical problems
4. Use simple language appropriate for students
5. Cite your sources using [Source 1], [Source 2], etc.
6. If the question involves calculations, show the complete working
7. If information is not in the context, say "This topic is not covered in the provided NCERT content"

YOUR DETAILED ANSWER:`)

	return b.String()
}

// BuildDirectPrompt 检索不可用时的无上下文直答提示词
func BuildDirectPrompt(query string) string {
	var b strings.Builder

	b.WriteString(`You are a helpful NCERT tutor specializing in Mathematics, Physics, Chemistry, and other subjects for students in grades 5-12.

Question: `)
	b.WriteString(query)
	b.WriteString(`

Guidelines:
- For MATH: Show step-by-step solution with formulas
- For PHYSICS: Include relevant formulas and units
- For CHEMISTRY: Write chemical equations properly
- Explain in simple, student-friendly language
- If you don't know something, say so honestly

Your Answer:`)

	return b.String()
}
