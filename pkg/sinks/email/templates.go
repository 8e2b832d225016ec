package email

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
)

var (
	ccAgentText = texttemplate.Must(texttemplate.New("cc_agent.txt").Parse(ccAgentTextSource))
	ccAgentHTML = htmltemplate.Must(htmltemplate.New("cc_agent.html").Parse(ccAgentHTMLSource))
	ownerText   = texttemplate.Must(texttemplate.New("owner.txt").Parse(ownerTextSource))
	ownerHTML   = htmltemplate.Must(htmltemplate.New("owner.html").Parse(ownerHTMLSource))
)

func render(text *texttemplate.Template, html *htmltemplate.Template, data templateData) (string, string, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", err
	}
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", err
	}
	return textBuf.String(), htmlBuf.String(), nil
}

const ccAgentTextSource = `Customer Follow-Up Required

Hello CC Agent,

You have been assigned to follow up with the following customer:

Customer Details:
- Name: {{.Field "Customer Name"}}
- ID: {{.Field "Customer ID"}}
- Contact: {{.Field "Customer Contact"}}
- Issue: {{.Field "Issue"}}

Original TMK CRM Account: {{.Field "TMK - CRM Account Name"}}
Assigned CC CRM Account: {{.Field "CC - CRM Account Name"}}
CC Whatsapp Number: {{.Field "CC Whatsapp Number"}}
Record ID: {{.RecordID}}
Submission Date: {{.SubmittedAt}}

This email was automatically generated by the TMK Customer Management System.
`

const ccAgentHTMLSource = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>TMK Case Assignment - {{.Field "Customer Name"}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 800px; margin: 0 auto; background: white; border-radius: 8px; overflow: hidden; }
        .header { background: #2c3e50; color: white; padding: 20px; text-align: center; }
        .content { padding: 30px; }
        .field-table { width: 100%; border-collapse: collapse; margin: 20px 0; }
        .field-table th, .field-table td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        .issue-section { background: #fff3cd; border: 2px solid #ffc107; border-radius: 8px; padding: 25px; margin: 25px 0; }
        .footer { background: #6c757d; color: white; padding: 15px; text-align: center; font-size: 14px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>TMK Case Assignment</h1>
            <p>Customer Follow-Up Required</p>
        </div>
        <div class="content">
            <p><strong>Hello CC Agent,</strong></p>
            <p>You have been assigned to follow up with a customer. Please review all the details below:</p>
            <table class="field-table">
                <tr><th>Field</th><th>Value</th></tr>
                <tr><td><strong>Customer Name</strong></td><td>{{.Field "Customer Name"}}</td></tr>
                <tr><td><strong>Customer ID</strong></td><td>{{.Field "Customer ID"}}</td></tr>
                <tr><td><strong>Customer Contact</strong></td><td>{{.Field "Customer Contact"}}</td></tr>
            </table>
            <div class="issue-section">
                <h3>Issue Details</h3>
                <p>{{.Field "Issue"}}</p>
            </div>
        </div>
        <div class="footer">
            <p><strong>TMK Customer Management System</strong></p>
            <p>Generated on {{.GeneratedAt}}</p>
        </div>
    </div>
</body>
</html>
`

const ownerTextSource = `New TMK Form Submission

Event: {{.Event}}
Record ID: {{.RecordID}}
Submitted At: {{.SubmittedAt}}

Details:
{{range .Fields}}{{.Name}}: {{.Value}}
{{end}}
Received at: {{.ReceivedAt}}
`

const ownerHTMLSource = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background-color: #f5f5f5; }
        .container { background-color: white; padding: 30px; border-radius: 10px; }
        .header { background: #667eea; color: white; padding: 20px; border-radius: 8px; margin-bottom: 20px; text-align: center; }
        .meta-info { background-color: #f8f9fa; padding: 15px; border-radius: 5px; margin-bottom: 20px; border-left: 4px solid #667eea; }
        .field { border: 1px solid #e9ecef; border-radius: 5px; padding: 12px 15px; margin-bottom: 10px; }
        .field-label { font-weight: 600; color: #495057; }
        .priority { color: #dc3545; font-weight: bold; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 2px solid #e9ecef; text-align: center; color: #6c757d; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>New TMK Form Submission</h1>
        </div>
        <div class="meta-info">
            <p><strong>Event:</strong> {{.Event}}</p>
            <p><strong>Record ID:</strong> {{.RecordID}}</p>
            <p><strong>Submitted At:</strong> {{.SubmittedAt}}</p>
            <p><strong>Received At:</strong> {{.ReceivedAt}}</p>
        </div>
        <div class="fields-container">
            <h2>Submission Details</h2>
            {{- range .Fields}}
            <div class="field">
                <span class="field-label">{{.Name}}:</span>
                <span class="field-value{{if .Priority}} priority{{end}}">{{.Value}}</span>
            </div>
            {{- end}}
        </div>
        <div class="footer">
            <p>This email was automatically generated by the TMK Webhook System</p>
            <p>Generated on {{.GeneratedAt}}</p>
        </div>
    </div>
</body>
</html>
`
